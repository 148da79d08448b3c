// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package exechost

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ErrStaleRequest is returned by Verify when a request's timestamp is
// further from the receiver's clock than the configured skew window
// allows, in either direction.
var ErrStaleRequest = errors.New("exechost: request timestamp outside skew window")

// ErrBadSignature is returned by Verify when the HMAC does not match.
var ErrBadSignature = errors.New("exechost: signature mismatch")

// Verify checks a Request's signature and timestamp freshness. This is
// the receiver side of the client's sign step, used by cmd/exechostd.
// Requests outside the skew window are rejected rather than allowed
// through, matching the fail-closed posture the rest of this package
// takes toward an unset or mismatched secret.
func Verify(req Request, secret []byte, skew time.Duration) error {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(req.Nonce))
	mac.Write([]byte(":"))
	mac.Write([]byte(strconv.FormatInt(req.TimestampUnix, 10)))
	mac.Write([]byte(":"))
	mac.Write(req.Exec)
	want := mac.Sum(nil)

	got, err := hex.DecodeString(req.Signature)
	if err != nil || !hmac.Equal(want, got) {
		return ErrBadSignature
	}

	age := time.Since(time.Unix(req.TimestampUnix, 0))
	if age < 0 {
		age = -age
	}
	if age > skew {
		return ErrStaleRequest
	}
	return nil
}

// DecodeExecSpec unmarshals the Exec payload of a verified Request.
func DecodeExecSpec(req Request) (ExecSpec, error) {
	var spec ExecSpec
	err := json.Unmarshal(req.Exec, &spec)
	return spec, err
}
