package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidLink = errors.New("storage: invalid download link")
	ErrLinkExpired = errors.New("storage: download link expired")
)

// LinkSigner issues and checks HMAC-signed download tokens for archived reports.
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLinkSigner constructs a signer. A non-positive ttl defaults to one hour.
func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token naming batch and the archived file, and its expiry.
func (s *LinkSigner) Sign(batch, name string) (string, time.Time, error) {
	if batch == "" || name == "" {
		return "", time.Time{}, fmt.Errorf("batch and name required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	parts := []string{
		base64.RawURLEncoding.EncodeToString([]byte(batch)),
		strconv.FormatInt(expiresAt.Unix(), 10),
		base64.RawURLEncoding.EncodeToString([]byte(name)),
	}
	parts = append(parts, s.signature(strings.Join(parts, "|")))
	return strings.Join(parts, "."), expiresAt, nil
}

// Verify checks the token signature and expiry and returns the batch and file name.
func (s *LinkSigner) Verify(token string) (batch, name string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", ErrInvalidLink
	}
	if !hmac.Equal([]byte(s.signature(strings.Join(parts[:3], "|"))), []byte(parts[3])) {
		return "", "", ErrInvalidLink
	}
	rawBatch, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", ErrInvalidLink
	}
	rawName, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", "", ErrInvalidLink
	}
	expUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", "", ErrInvalidLink
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", "", ErrLinkExpired
	}
	return string(rawBatch), string(rawName), nil
}

func (s *LinkSigner) signature(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
