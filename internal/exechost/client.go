// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package exechost

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/hyper-ai-inc/node-gateway/internal/id"
)

// ErrDenied is returned when the exec-host's terminal frame reports
// ok=false with no further detail.
var ErrDenied = errors.New("exechost: command denied")

// state is the client's view of one call. A call starts Armed (request
// sent, waiting for the first frame back) and may
// move to Pending once (the first pending frame extends the wait); any
// further pending frame is ignored and does not extend it again.
type state int

const (
	stateArmed state = iota
	statePending
)

// defaultPendingExtendMs is the extension applied when a pending frame
// omits ExtendMs, matching the exec-host protocol's own fallback.
const defaultPendingExtendMs = 300_000

// Client dials the exec-host's Unix domain socket once per call. The
// exec-host process is expected to be co-located on the same host as the
// gateway (or its sandbox), matching sandbox/internal/broker's
// same-host trust assumption for its approval callback.
type Client struct {
	socketPath string
	secret     []byte
	skew       time.Duration
	dialTimeout time.Duration
}

// New creates a client bound to a Unix socket path and HMAC secret. skew
// is the gateway's configured skew window (config.Limits.HMACSkewWindow);
// the client stores it but does not apply it. Freshness is checked only
// on the receiving side, by Verify with the exec-host's own window.
func New(socketPath string, secret []byte, skew time.Duration) *Client {
	return &Client{
		socketPath:  socketPath,
		secret:      secret,
		skew:        skew,
		dialTimeout: 5 * time.Second,
	}
}

// Exec runs one command via the exec-host. onPending is invoked (from
// the calling goroutine, synchronously) the first time the exec-host
// reports the command is awaiting owner approval; later pending frames
// are ignored. The caller uses it to extend its own invoke's timeout.
// Exec resolves exactly once: either a ResultFrame, or a non-nil error
// from a transport failure, a malformed frame, or the socket deadline
// expiring. ctx bounds the dial and supplies the initial socket
// deadline; cancelling ctx after the dial does not interrupt the call.
func (c *Client) Exec(ctx context.Context, spec ExecSpec, onPending func(extendBy time.Duration)) (ResultFrame, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		return ResultFrame{}, fmt.Errorf("exechost: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	req, err := c.sign(spec)
	if err != nil {
		return ResultFrame{}, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return ResultFrame{}, err
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return ResultFrame{}, fmt.Errorf("exechost: write request: %w", err)
	}

	st := stateArmed
	reader := bufio.NewReaderSize(conn, 64*1024)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return ResultFrame{}, fmt.Errorf("exechost: read frame (state=%d): %w", st, err)
		}

		switch readType(line) {
		case FrameExecPending:
			var p PendingFrame
			if err := json.Unmarshal(line, &p); err != nil {
				return ResultFrame{}, fmt.Errorf("exechost: malformed pending frame: %w", err)
			}
			if st == statePending {
				log.Printf("[exechost] %s: pending frame ignored, already pending (%s)", req.Nonce, p.Reason)
				continue
			}
			st = statePending
			extendMs := p.ExtendMs
			if extendMs <= 0 {
				extendMs = defaultPendingExtendMs
			}
			extend := time.Duration(extendMs) * time.Millisecond
			log.Printf("[exechost] %s: pending (%s), extending by %s", req.Nonce, p.Reason, extend)
			// The base timer (ctx's deadline, set on conn above) is
			// cancelled and an extended timer armed in its place, per the
			// exec-host state machine: without pushing this socket's own
			// read deadline out, a still-pending command is killed here
			// even though onPending has told the caller to wait longer.
			if err := conn.SetDeadline(time.Now().Add(extend)); err != nil {
				return ResultFrame{}, fmt.Errorf("exechost: extend deadline: %w", err)
			}
			if onPending != nil {
				onPending(extend)
			}
			continue

		case FrameExecResult:
			var res ResultFrame
			if err := json.Unmarshal(line, &res); err != nil {
				return ResultFrame{}, fmt.Errorf("exechost: malformed result frame: %w", err)
			}
			if !res.OK && res.Error == "" {
				return res, ErrDenied
			}
			return res, nil

		default:
			return ResultFrame{}, fmt.Errorf("exechost: unexpected frame type %q", readType(line))
		}
	}
}

// sign builds and HMAC-signs a Request. The signature covers
// nonce:ts:execJSON, matching control_ws.go's newline-JSON framing
// style but adding the authentication control_ws.go doesn't need
// because it runs over an already-authenticated WebSocket.
func (c *Client) sign(spec ExecSpec) (Request, error) {
	return c.signAt(spec, time.Now().Unix())
}

// signAt signs spec as of the given unix timestamp. Split out from sign
// so tests can construct requests with a deliberately stale timestamp
// without forging a signature by hand.
func (c *Client) signAt(spec ExecSpec, ts int64) (Request, error) {
	execJSON, err := json.Marshal(spec)
	if err != nil {
		return Request{}, err
	}
	nonce, err := id.New()
	if err != nil {
		return Request{}, err
	}

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(nonce))
	mac.Write([]byte(":"))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte(":"))
	mac.Write(execJSON)
	sig := hex.EncodeToString(mac.Sum(nil))

	return Request{
		Type:          FrameExecRequest,
		Nonce:         nonce,
		TimestampUnix: ts,
		Exec:          execJSON,
		Signature:     sig,
	}, nil
}
