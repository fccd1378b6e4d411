package core

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // integrity hash only, not a security boundary
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Canonicalize produces a byte-stable JSON encoding of v: object keys sorted,
// no insignificant whitespace, UTF-8. Signer and verifier must apply the
// exact same rules, or signatures silently diverge (design note, §9).
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// IntegrityHash returns the base64-encoded MD5 digest of body, used as the
// transport's content-integrity header. MD5 here is a checksum, not a
// cryptographic signature — HMAC-SHA256 carries the authenticity guarantee.
func IntegrityHash(body []byte) string {
	sum := md5.Sum(body) //nolint:gosec
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Sign computes the lowercase-hex HMAC-SHA256 of payload under secret.
func Sign(secret []byte, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the HMAC over payload and compares it to sig in
// constant time. Signatures of differing length are rejected without
// leaking timing information about the mismatch.
func VerifySignature(secret []byte, payload []byte, sig string) bool {
	expected := Sign(secret, payload)
	if len(expected) != len(sig) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1
}

// PayloadHash returns the hex-encoded SHA-256 digest of canonical, used by
// the audit sink to detect idempotency-key reuse with a differing body.
func PayloadHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
