// Package authsig computes the HTTP submitter's authentication signature.
// The hash itself is treated as an opaque, out-of-scope primitive per the
// spec (SHA-1 over a specified concatenation, emitted as 28-char base64) —
// this package is a thin, direct wiring of the standard library's own
// implementation of that primitive, not a reimplementation of it.
package authsig

import (
	"crypto/sha1" //nolint:gosec // required by the wire protocol, not a security choice
	"encoding/base64"
	"fmt"
	"time"
)

// HexTime renders t as lowercase hex unix seconds, the form the wire
// protocol embeds in both the auth field and signs over.
func HexTime(t time.Time) string {
	return fmt.Sprintf("%x", t.Unix())
}

// Sign computes base64(SHA1(rawPassword ‖ hexTime)), a 28-character string
// ending in '='.
func Sign(rawPassword []byte, hexTime string) string {
	h := sha1.New() //nolint:gosec
	h.Write(rawPassword)
	h.Write([]byte(hexTime))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// RawPassword hashes a plaintext password into the raw 20-byte digest the
// wire protocol stores and signs with — the config-time equivalent of
// out_http.c's sha1(cfg->password, arg, strlen(arg)) call.
func RawPassword(plaintext string) []byte {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(plaintext))
	return h.Sum(nil)
}
