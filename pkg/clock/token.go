package clock

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedToken is returned when a token does not match the
// "sk-<epoch_hex>-<hmac16>" format.
var ErrMalformedToken = errors.New("malformed token")

// ErrExpiredToken is returned when a token's embedded expiry has passed.
var ErrExpiredToken = errors.New("expired token")

const tokenPrefix = "sk-"

// HMACToken mints a stateless, time-bounded bearer token of the form
// "sk-<epoch_hex>-<hmac16>" where epoch is the Unix expiry timestamp and
// hmac16 is the first 16 hex characters of HMAC-SHA256(secret, epoch_hex).
func HMACToken(c Clock, secret string, ttl time.Duration) string {
	expiresAt := c.Now().Add(ttl).Unix()
	epochHex := strconv.FormatInt(expiresAt, 16)
	mac := computeMAC(secret, epochHex)
	return tokenPrefix + epochHex + "-" + mac
}

// VerifyResult is the outcome of verifying an HMAC token.
type VerifyResult struct {
	Valid     bool
	ExpiresAt time.Time
}

// VerifyToken checks a token's shape, recomputes its HMAC in constant time,
// and confirms its embedded expiry is strictly in the future.
func VerifyToken(c Clock, token, secret string) (VerifyResult, error) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return VerifyResult{}, ErrMalformedToken
	}
	body := strings.TrimPrefix(token, tokenPrefix)
	parts := strings.SplitN(body, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return VerifyResult{}, ErrMalformedToken
	}
	epochHex, gotMAC := parts[0], parts[1]

	expiresAtUnix, err := strconv.ParseInt(epochHex, 16, 64)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("%w: bad epoch segment", ErrMalformedToken)
	}
	expiresAt := time.Unix(expiresAtUnix, 0)

	wantMAC := computeMAC(secret, epochHex)
	if !hmac.Equal([]byte(gotMAC), []byte(wantMAC)) {
		return VerifyResult{}, ErrMalformedToken
	}

	if !expiresAt.After(c.Now()) {
		return VerifyResult{ExpiresAt: expiresAt}, ErrExpiredToken
	}

	return VerifyResult{Valid: true, ExpiresAt: expiresAt}, nil
}

func computeMAC(secret, epochHex string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(epochHex))
	sum := mac.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}
