package integration

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for fingerprints. The version suffix allows the payload
// encoding to change without colliding with older bookmarks.
const (
	DomainPayload = "woosync/payload/v1"
	DomainRaw     = "woosync/raw/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + stream + 0x00 + data).
func hashWithDomain(domain string, stream StreamKind, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write([]byte(stream))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes a mapped payload. Payloads are structs or maps, so
// encoding/json gives a stable field order.
func Fingerprint(stream StreamKind, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint: failed to marshal payload: %w", err)
	}
	return hashWithDomain(DomainPayload, stream, data), nil
}

// RawFingerprint hashes an inbound record that could not be mapped.
// Insignificant whitespace is removed first.
func RawFingerprint(stream StreamKind, raw []byte) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err == nil {
		raw = compact.Bytes()
	}
	return hashWithDomain(DomainRaw, stream, raw)
}
