// Package token issues and verifies download tickets.
//
// A ticket is "expiry.fingerprint.signature": expiry in epoch milliseconds, a
// short hash of the requesting user agent, and an HMAC-SHA256 over
// slug|locale|expiry|fingerprint encoded as unpadded base64url. Slug and
// locale are not carried in the ticket; the redeemer supplies them again and
// they must match what was signed.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"softhub/internal/models"
)

// MinSecretLength is the shortest signing secret NewSigner accepts.
const MinSecretLength = models.MinSigningSecretLength

// FingerprintLength is the number of hex characters in a fingerprint.
const FingerprintLength = 16

const (
	fieldSep   = "."
	messageSep = "|"
)

var (
	ErrSecretTooShort = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	ErrInvalidScope   = errors.New("invalid slug or locale")
	ErrInvalidTTL     = errors.New("token TTL must be positive")
)

// Reason explains why a ticket was rejected. It is for logs and metrics only;
// callers answer every invalid ticket the same way.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonMalformed           Reason = "malformed"
	ReasonSignatureMismatch   Reason = "signature-mismatch"
	ReasonExpired             Reason = "expired"
	ReasonFingerprintMismatch Reason = "fingerprint-mismatch"
)

// Result is the outcome of Verify.
type Result struct {
	Valid  bool
	Reason Reason
}

// Fingerprint derives a fixed-length identifier from a user agent string. An
// empty user agent yields the fingerprint of the empty string.
func Fingerprint(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}

// Signer holds the process-wide secret. It is safe for concurrent use.
type Signer struct {
	secret []byte
	now    func() time.Time
}

type Option func(*Signer)

// WithClock overrides the signer's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner validates the secret once so that Issue and Verify never have to.
func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	s := &Signer{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue returns a ticket for (slug, locale) bound to fingerprint that expires
// ttl from now, together with the expiry.
func (s *Signer) Issue(slug, locale, fingerprint string, ttl time.Duration) (string, time.Time, error) {
	if !models.ValidSlug(slug) || !models.ValidLocale(locale) {
		return "", time.Time{}, ErrInvalidScope
	}
	if ttl <= 0 {
		return "", time.Time{}, ErrInvalidTTL
	}
	if !validFingerprint(fingerprint) {
		return "", time.Time{}, fmt.Errorf("fingerprint must be %d hex characters", FingerprintLength)
	}

	expiry := s.now().Add(ttl).UnixMilli()
	sig := s.sign(slug, locale, expiry, fingerprint)

	tok := strconv.FormatInt(expiry, 10) + fieldSep + fingerprint + fieldSep + sig
	return tok, time.UnixMilli(expiry), nil
}

// Verify checks tok against the scope and fingerprint presented at
// redemption. Shape is checked before the signature, and the signature
// before expiry and fingerprint, so no claim is trusted until it is proven
// to be ours.
func (s *Signer) Verify(tok, slug, locale, fingerprint string) Result {
	parts := strings.Split(tok, fieldSep)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return Result{Reason: ReasonMalformed}
	}
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || expiry <= 0 {
		return Result{Reason: ReasonMalformed}
	}
	tokenFP, gotSig := parts[1], parts[2]

	// A scope that could never have been issued cannot have a valid signature.
	if !models.ValidSlug(slug) || !models.ValidLocale(locale) || !validFingerprint(tokenFP) {
		return Result{Reason: ReasonSignatureMismatch}
	}

	wantSig := s.sign(slug, locale, expiry, tokenFP)
	if !hmac.Equal([]byte(gotSig), []byte(wantSig)) {
		return Result{Reason: ReasonSignatureMismatch}
	}

	if s.now().UnixMilli() > expiry {
		return Result{Reason: ReasonExpired}
	}

	if subtle.ConstantTimeCompare([]byte(tokenFP), []byte(fingerprint)) != 1 {
		return Result{Reason: ReasonFingerprintMismatch}
	}

	return Result{Valid: true}
}

func (s *Signer) sign(slug, locale string, expiry int64, fingerprint string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.Join([]string{slug, locale, strconv.FormatInt(expiry, 10), fingerprint}, messageSep)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func validFingerprint(fp string) bool {
	if len(fp) != FingerprintLength {
		return false
	}
	_, err := hex.DecodeString(fp)
	return err == nil
}
