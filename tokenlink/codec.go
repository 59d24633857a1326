package tokenlink

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTTL is how long a minted download link stays redeemable unless the
// caller asks for something else.
const DefaultTTL = time.Hour

// tokenContext distinguishes download tokens from any other token class this
// application might sign with the same secret. Changing it invalidates all
// outstanding tokens.
const tokenContext = "dl"

var (
	// ErrInvalidToken covers corruption, truncation, and forgery alike.
	// Callers must not distinguish those causes in external responses.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken means the signature checked out but the embedded
	// expiry has passed.
	ErrExpiredToken = errors.New("expired token")
)

// Payload is the signed content of a download token. Field names mirror the
// compact wire keys so tokens stay short.
type Payload struct {
	Email     string `json:"e"`
	Label     string `json:"f"`
	Path      string `json:"p,omitempty"`
	URL       string `json:"u,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

// Expired reports whether the payload's expiry is strictly before now.
func (p Payload) Expired(now time.Time) bool {
	return now.Unix() > p.ExpiresAt
}

// Codec mints and verifies self-contained signed download tokens. Validation
// needs no server-side storage: the payload carries its own expiry and the
// HMAC covers every byte of it.
type Codec struct {
	key []byte
	now func() time.Time
}

// NewCodec derives the signing key from the process secret and the fixed
// token context string. Rotating the secret invalidates every unexpired
// token, which is the accepted operational trade-off.
func NewCodec(secret string) *Codec {
	key := sha256.Sum256([]byte(tokenContext + ":" + secret))
	return &Codec{
		key: key[:],
		now: time.Now,
	}
}

// Mint serializes the payload and returns an opaque URL-safe token string.
// The recipient email is normalized (lowercased, trimmed) before signing.
// Expiry is fixed at mint time as now + ttl.
func (c *Codec) Mint(email, label, path, url string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %v", ttl)
	}

	payload := Payload{
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Label:     label,
		Path:      path,
		URL:       url,
		ExpiresAt: c.now().Add(ttl).Unix(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + c.sign(encoded), nil
}

// Verify checks the token's signature and expiry and returns the decoded
// payload. Signature and structural failures all surface as ErrInvalidToken
// so the error cannot be used as a forgery oracle.
func (c *Codec) Verify(token string) (Payload, error) {
	encoded, mac, found := strings.Cut(token, ".")
	if !found || encoded == "" || mac == "" {
		return Payload{}, ErrInvalidToken
	}

	if !hmac.Equal([]byte(mac), []byte(c.sign(encoded))) {
		return Payload{}, ErrInvalidToken
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Payload{}, ErrInvalidToken
	}

	if payload.Expired(c.now()) {
		return Payload{}, ErrExpiredToken
	}
	return payload, nil
}

// SignedLink mints a token and returns the absolute redemption URL whose
// path component carries it.
func (c *Codec) SignedLink(baseURL, email, label, path, url string, ttl time.Duration) (string, error) {
	token, err := c.Mint(email, label, path, url, ttl)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(baseURL, "/") + "/download/" + token, nil
}

func (c *Codec) sign(encoded string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
