// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package config reads the gateway's tunable limits from environment
// variables with coded defaults, the same os.Getenv-driven shape as
// sandbox's own env-var configuration, and optionally hot-reloads them
// from a JSON file with fsnotify, the same watch-a-file idiom
// drivesync's workspace watcher used, repurposed here to let an operator
// tune maxInflightBytes without a restart.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Limits holds the gateway's tunable ceilings and timeouts.
type Limits struct {
	MaxPayloadBytes        int           `json:"maxPayloadBytes"`
	MaxInvokeResultBytes   int64         `json:"maxInvokeResultBytes"`
	MaxInflightBytes       int64         `json:"maxInflightBytes"`
	DefaultInvokeTimeout   time.Duration `json:"-"`
	DefaultInvokeTimeoutMs int           `json:"defaultInvokeTimeoutMs"`
	HMACSkewWindow         time.Duration `json:"-"`
	HMACSkewWindowSec      int           `json:"hmacSkewWindowSec"`
}

// Coded defaults, used until an env var or limits file overrides them.
const (
	defaultMaxPayloadBytes      = 256 * 1024
	defaultMaxInvokeResultBytes = 64 * 1024 * 1024
	defaultMaxInflightBytes     = 512 * 1024 * 1024
	defaultInvokeTimeoutMs      = 30_000
	defaultHMACSkewWindowSec    = 60
)

// Default returns the coded-default limits, used before any env or file
// override is applied.
func Default() Limits {
	return Limits{
		MaxPayloadBytes:        defaultMaxPayloadBytes,
		MaxInvokeResultBytes:   defaultMaxInvokeResultBytes,
		MaxInflightBytes:       defaultMaxInflightBytes,
		DefaultInvokeTimeout:   defaultInvokeTimeoutMs * time.Millisecond,
		DefaultInvokeTimeoutMs: defaultInvokeTimeoutMs,
		HMACSkewWindow:         defaultHMACSkewWindowSec * time.Second,
		HMACSkewWindowSec:      defaultHMACSkewWindowSec,
	}
}

// FromEnv builds Limits starting from Default and overriding any field
// whose environment variable is set and parses cleanly. A malformed value
// is logged and the default is kept, matching auth.go's fail-closed but
// non-fatal posture for bad configuration.
func FromEnv() Limits {
	l := Default()

	if v, ok := getInt("GATEWAY_MAX_PAYLOAD_BYTES"); ok {
		l.MaxPayloadBytes = v
	}
	if v, ok := getInt64("GATEWAY_MAX_INVOKE_RESULT_BYTES"); ok {
		l.MaxInvokeResultBytes = v
	}
	if v, ok := getInt64("GATEWAY_MAX_INFLIGHT_BYTES"); ok {
		l.MaxInflightBytes = v
	}
	if v, ok := getInt("GATEWAY_DEFAULT_INVOKE_TIMEOUT_MS"); ok {
		l.DefaultInvokeTimeoutMs = v
		l.DefaultInvokeTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := getInt("GATEWAY_HMAC_SKEW_WINDOW_SEC"); ok {
		l.HMACSkewWindowSec = v
		l.HMACSkewWindow = time.Duration(v) * time.Second
	}

	log.Printf("[config] limits: maxPayloadBytes=%d maxInvokeResultBytes=%d maxInflightBytes=%d defaultInvokeTimeout=%s hmacSkewWindow=%s",
		l.MaxPayloadBytes, l.MaxInvokeResultBytes, l.MaxInflightBytes, l.DefaultInvokeTimeout, l.HMACSkewWindow)

	return l
}

func getInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[config] WARNING: %s=%q is not a valid integer, keeping default", name, raw)
		return 0, false
	}
	return v, true
}

func getInt64(name string) (int64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("[config] WARNING: %s=%q is not a valid integer, keeping default", name, raw)
		return 0, false
	}
	return v, true
}

func fillDurations(l *Limits) {
	if l.DefaultInvokeTimeoutMs > 0 {
		l.DefaultInvokeTimeout = time.Duration(l.DefaultInvokeTimeoutMs) * time.Millisecond
	}
	if l.HMACSkewWindowSec > 0 {
		l.HMACSkewWindow = time.Duration(l.HMACSkewWindowSec) * time.Second
	}
}

// Watcher hot-reloads Limits from a JSON file on disk whenever it
// changes, calling onChange with the newly parsed value. The file is
// optional: if path is empty, Watch is a no-op and callers keep whatever
// Limits they already have.
type Watcher struct {
	mu   sync.Mutex
	path string
}

// Watch starts an fsnotify watch on path. It reads the file once
// immediately (if present) before returning, then continues watching in
// a background goroutine until stop is closed.
func Watch(path string, onChange func(Limits), stop <-chan struct{}) error {
	if path == "" {
		return nil
	}

	load := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("[config] failed to read limits file %s: %v", path, err)
			}
			return
		}
		var l Limits
		if err := json.Unmarshal(data, &l); err != nil {
			log.Printf("[config] failed to parse limits file %s: %v", path, err)
			return
		}
		fillDurations(&l)
		log.Printf("[config] reloaded limits from %s", path)
		onChange(l)
	}

	load()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		if os.IsNotExist(err) {
			log.Printf("[config] limits file %s does not exist yet, not watching", path)
			return nil
		}
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					load()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[config] watch error on %s: %v", path, err)
			case <-stop:
				return
			}
		}
	}()

	return nil
}
