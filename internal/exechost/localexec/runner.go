// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package localexec runs one exec-host command to completion, adapted
// from sandbox/internal/pty/pty.go's PTY wrapper: interactive-shaped
// commands (a shell, a REPL) are given a pty via creack/pty so their
// output looks the way it would in a real terminal, while ordinary
// commands run with plain os/exec pipes.
package localexec

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/creack/pty"

	"github.com/hyper-ai-inc/node-gateway/internal/exechost"
)

// interactiveCommands is the set of commands the demonstration exec-host
// runs under a pty rather than plain pipes, because their output format
// (prompts, color, line editing) depends on having a controlling
// terminal.
var interactiveCommands = map[string]bool{
	"sh":   true,
	"bash": true,
	"zsh":  true,
}

// Run executes spec and blocks until it exits or ctx is cancelled.
func Run(ctx context.Context, spec exechost.ExecSpec) exechost.ResultFrame {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	if interactiveCommands[spec.Command] {
		return runPTY(cmd)
	}
	return runPipes(cmd)
}

func runPTY(cmd *exec.Cmd) exechost.ResultFrame {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 120, Rows: 40})
	if err != nil {
		return exechost.ResultFrame{OK: false, Error: err.Error()}
	}
	defer ptmx.Close()

	var out bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, rerr := ptmx.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	res := exechost.ResultFrame{OK: waitErr == nil, Stdout: out.String()}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		}
		res.Error = waitErr.Error()
	}
	return res
}

func runPipes(cmd *exec.Cmd) exechost.ResultFrame {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := exechost.ResultFrame{
		OK:     err == nil,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		}
		res.Error = err.Error()
	}
	return res
}
