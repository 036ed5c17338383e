package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names carried by HMAC-authenticated requests.
const (
	HeaderKey       = "X-Wagerpool-Key"
	HeaderTimestamp = "X-Wagerpool-Timestamp"
	HeaderSignature = "X-Wagerpool-Signature"
)

// ErrBadRequestSignature is returned by Verify for any mismatch.
var ErrBadRequestSignature = errors.New("crypto: bad request signature")

// HMACAuth authenticates calls from an oracle node to the pool API. The
// signature is base64(HMAC-SHA256(secret, timestamp+method+path+body)).
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the authentication headers for a request made now.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Apply sets the authentication headers on req.
func (h *HMACAuth) Apply(req *http.Request, body []byte) {
	for k, v := range h.Headers(req.Method, req.URL.Path, string(body)) {
		req.Header.Set(k, v)
	}
}

// Verify checks the headers of a received request. Timestamps further than
// maxSkew from now are rejected.
func (h *HMACAuth) Verify(method, path, body string, header http.Header, now time.Time, maxSkew time.Duration) error {
	if header.Get(HeaderKey) != h.Key {
		return ErrBadRequestSignature
	}
	ts := header.Get(HeaderTimestamp)
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrBadRequestSignature, ts)
	}
	if skew := now.Sub(time.Unix(unix, 0)); skew > maxSkew || skew < -maxSkew {
		return fmt.Errorf("%w: timestamp skew %s", ErrBadRequestSignature, skew)
	}
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	if !hmac.Equal([]byte(want), []byte(header.Get(HeaderSignature))) {
		return ErrBadRequestSignature
	}
	return nil
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
