package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-test-secret"

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSigner(t *testing.T) (*Signer, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewSigner(testSecret, WithClock(c.Now))
	require.NoError(t, err)
	return s, c
}

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36"

func TestNewSigner_RejectsShortSecret(t *testing.T) {
	_, err := NewSigner("fifteen-bytes!!")
	assert.ErrorIs(t, err, ErrSecretTooShort)

	_, err = NewSigner("sixteen-bytes!!!")
	assert.NoError(t, err)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint(chromeUA)
	assert.Len(t, fp, FingerprintLength)
	assert.Equal(t, fp, Fingerprint(chromeUA))
	assert.NotEqual(t, fp, Fingerprint("curl/8.5.0"))

	empty := Fingerprint("")
	assert.Len(t, empty, FingerprintLength)
	assert.Equal(t, "e3b0c44298fc1c14", empty)
}

func TestIssue_TokenShape(t *testing.T) {
	s, c := newTestSigner(t)

	tok, expiresAt, err := s.Issue("atlas-utilities", "en", Fingerprint(chromeUA), 2*time.Minute)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	assert.Equal(t, "1772366520000", parts[0])
	assert.Equal(t, Fingerprint(chromeUA), parts[1])
	assert.NotContains(t, parts[2], "=")
	assert.NotContains(t, parts[2], "+")
	assert.NotContains(t, parts[2], "/")
	assert.Equal(t, c.Now().Add(2*time.Minute), expiresAt.UTC())
}

func TestIssue_RejectsBadScope(t *testing.T) {
	s, _ := newTestSigner(t)
	fp := Fingerprint(chromeUA)

	for _, tc := range []struct{ slug, locale string }{
		{"", "en"},
		{"atlas|en", "en"},
		{"atlas", ""},
		{"atlas", "en|1"},
		{"Atlas", "en"},
	} {
		_, _, err := s.Issue(tc.slug, tc.locale, fp, time.Minute)
		assert.ErrorIs(t, err, ErrInvalidScope, "%q/%q", tc.slug, tc.locale)
	}

	_, _, err := s.Issue("atlas", "en", fp, 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, _, err = s.Issue("atlas", "en", "not-a-fingerprint", time.Minute)
	assert.Error(t, err)
}

func TestVerify_ValidThenExpired(t *testing.T) {
	s, c := newTestSigner(t)
	fp := Fingerprint(chromeUA)

	tok, _, err := s.Issue("atlas-utilities", "en", fp, 120000*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, Result{Valid: true}, s.Verify(tok, "atlas-utilities", "en", fp))

	// Still valid at the exact expiry instant.
	c.Advance(120000 * time.Millisecond)
	assert.True(t, s.Verify(tok, "atlas-utilities", "en", fp).Valid)

	c.Advance(10000 * time.Millisecond)
	assert.Equal(t, Result{Reason: ReasonExpired}, s.Verify(tok, "atlas-utilities", "en", fp))
}

func TestVerify_ScopeMismatch(t *testing.T) {
	s, _ := newTestSigner(t)
	fp := Fingerprint(chromeUA)

	tok, _, err := s.Issue("atlas-utilities", "en", fp, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, ReasonSignatureMismatch, s.Verify(tok, "other-app", "en", fp).Reason)
	assert.Equal(t, ReasonSignatureMismatch, s.Verify(tok, "atlas-utilities", "ar", fp).Reason)
	assert.Equal(t, ReasonSignatureMismatch, s.Verify(tok, "Bad Slug", "en", fp).Reason)
}

func TestVerify_FingerprintMismatch(t *testing.T) {
	s, _ := newTestSigner(t)

	tok, _, err := s.Issue("atlas-utilities", "en", Fingerprint(chromeUA), time.Minute)
	require.NoError(t, err)

	res := s.Verify(tok, "atlas-utilities", "en", Fingerprint("curl/8.5.0"))
	assert.Equal(t, Result{Reason: ReasonFingerprintMismatch}, res)
}

func TestVerify_TamperedFields(t *testing.T) {
	s, _ := newTestSigner(t)
	fp := Fingerprint(chromeUA)

	tok, _, err := s.Issue("atlas-utilities", "en", fp, time.Minute)
	require.NoError(t, err)
	parts := strings.Split(tok, ".")

	// Pushing the expiry forward breaks the signature.
	extended := "9999999999999." + parts[1] + "." + parts[2]
	assert.Equal(t, ReasonSignatureMismatch, s.Verify(extended, "atlas-utilities", "en", fp).Reason)

	// Swapping in the redeemer's fingerprint also breaks it.
	other := Fingerprint("curl/8.5.0")
	swapped := parts[0] + "." + other + "." + parts[2]
	assert.Equal(t, ReasonSignatureMismatch, s.Verify(swapped, "atlas-utilities", "en", other).Reason)

	// A different secret never verifies.
	s2, err := NewSigner("another-secret-of-length", WithClock(s.now))
	require.NoError(t, err)
	assert.Equal(t, ReasonSignatureMismatch, s2.Verify(tok, "atlas-utilities", "en", fp).Reason)
}

func TestVerify_Malformed(t *testing.T) {
	s, _ := newTestSigner(t)
	fp := Fingerprint(chromeUA)

	for _, tok := range []string{
		"",
		"abc",
		"1.2",
		"1.2.3.4",
		"notanumber." + fp + ".sig",
		"-5." + fp + ".sig",
		"1772366520000.." + "sig",
		"1772366520000." + fp + ".",
	} {
		assert.Equal(t, Result{Reason: ReasonMalformed}, s.Verify(tok, "atlas-utilities", "en", fp), "token %q", tok)
	}
}
