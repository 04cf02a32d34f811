// Package auth issues and verifies the bearer tokens of the API.
package auth

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

// tokenPrefix versions the token layout; tokens without it are rejected.
const tokenPrefix = "atv1"

// Claims identify the viewer of an assessment page.
type Claims struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Role string `json:"role"`
	JTI  string `json:"jti"`
	Exp  int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

func (c Claims) valid() bool {
	return c.Sub != "" && c.JTI != "" && c.Exp != 0
}

// IssueToken signs claims as `atv1.<payload>.<signature>`.
func IssueToken(secret []byte, claims Claims) (string, error) {
	if !claims.valid() {
		return "", fmt.Errorf("%w: subject, id and expiry are required", ErrInvalidToken)
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	signed := tokenPrefix + "." + base64.RawURLEncoding.EncodeToString(payloadBytes)
	return signed + "." + sign(secret, signed), nil
}

// ParseToken verifies the signature and expiry. The role in the claims is
// informational; callers reload the user to authorize.
func ParseToken(secret []byte, token string) (Claims, error) {
	cut := strings.LastIndexByte(token, '.')
	if cut < 0 {
		return Claims{}, ErrInvalidToken
	}
	signed, signature := token[:cut], token[cut+1:]
	prefix, payload, ok := strings.Cut(signed, ".")
	if !ok || prefix != tokenPrefix || strings.Contains(payload, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(secret, signed))) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil || !claims.valid() {
		return Claims{}, ErrInvalidToken
	}
	if !time.Now().Before(claims.ExpiresAt()) {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, signed string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(signed))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
