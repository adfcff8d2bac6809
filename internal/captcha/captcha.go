// Package captcha verifies challenge responses with a Turnstile-compatible
// siteverify endpoint. Verification is a single call with a bounded timeout;
// it is never retried.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"softhub/internal/models"
	"softhub/internal/version"
)

// DefaultVerifyURL is Cloudflare Turnstile's siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

var (
	// ErrNotConfigured means the provider secret is missing. It is an operator
	// problem and must not be reported to users as a failed challenge.
	ErrNotConfigured = errors.New("captcha provider not configured")

	// ErrVerificationFailed covers provider rejection, transport errors and
	// timeouts alike.
	ErrVerificationFailed = errors.New("captcha verification failed")
)

// Verifier checks a client-supplied challenge token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

// Turnstile calls a siteverify endpoint with a shared secret.
type Turnstile struct {
	secret    string
	verifyURL string
	client    *http.Client
	userAgent string
}

// NewTurnstile builds a verifier from cfg. A missing secret is not an error
// here; Verify reports ErrNotConfigured on every call instead.
func NewTurnstile(cfg models.CaptchaConfig) *Turnstile {
	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Turnstile{
		secret:    cfg.SecretKey,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
		userAgent: version.GetInfo().UserAgent(),
	}
}

// Configured reports whether a secret is present.
func (t *Turnstile) Configured() bool {
	return t.secret != ""
}

// Verify implements Verifier.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrVerificationFailed)
	}

	form := url.Values{
		"secret":   {t.secret},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: provider returned status %d", ErrVerificationFailed, resp.StatusCode)
	}

	var out siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrVerificationFailed, err)
	}
	if !out.Success {
		return fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(out.ErrorCodes, ","))
	}
	return nil
}
