// Package gate guards downloads behind a solved CAPTCHA.
//
// The flow is Anonymous -> CaptchaVerified -> TokenIssued -> Redeemed, but no
// state is kept on the server: CaptchaVerified is a cookie holding the
// issuance time, TokenIssued is a signed ticket the client carries, and
// Redeemed is a successful Verify of that ticket. There is no revocation and
// a ticket can be redeemed repeatedly until it expires.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"softhub/internal/captcha"
	"softhub/internal/models"
	"softhub/internal/token"
)

// SessionCookieName names the cookie carrying the session marker.
const SessionCookieName = "softhub_captcha"

// maxClockSkew bounds how far in the future a session marker may claim to
// have been issued.
const maxClockSkew = time.Minute

var (
	// ErrNotConfigured means a secret the step depends on is missing.
	ErrNotConfigured = errors.New("access gate not configured")
	// ErrNoSession means the CAPTCHA session marker is absent or expired.
	ErrNoSession = errors.New("no valid captcha session")
	// ErrForbidden covers every rejected challenge or ticket.
	ErrForbidden = errors.New("access denied")
	// ErrInvalidScope means the slug or locale cannot be signed.
	ErrInvalidScope = errors.New("invalid download scope")
)

// State names the conceptual step a request reached. Used in log fields.
type State string

const (
	StateAnonymous       State = "anonymous"
	StateCaptchaVerified State = "captcha_verified"
	StateTokenIssued     State = "token_issued"
	StateRedeemed        State = "redeemed"
)

// Session is a freshly issued CAPTCHA session marker.
type Session struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Ticket is a freshly issued download token.
type Ticket struct {
	Token     string
	ExpiresAt time.Time
}

type Config struct {
	SessionTTL time.Duration
	TokenTTL   time.Duration
	Locales    []string
}

// Gate composes the CAPTCHA verifier and the ticket signer. Either may be nil,
// in which case the steps that need it report ErrNotConfigured.
type Gate struct {
	verifier   captcha.Verifier
	signer     *token.Signer
	sessionTTL time.Duration
	tokenTTL   time.Duration
	locales    map[string]struct{}
	now        func() time.Time
	logger     *slog.Logger
	rejections metric.Int64Counter
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func New(verifier captcha.Verifier, signer *token.Signer, cfg Config, opts ...Option) *Gate {
	g := &Gate{
		verifier:   verifier,
		signer:     signer,
		sessionTTL: cfg.SessionTTL,
		tokenTTL:   cfg.TokenTTL,
		locales:    make(map[string]struct{}, len(cfg.Locales)),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, l := range cfg.Locales {
		g.locales[l] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}

	counter, err := otel.Meter("softhub/gate").Int64Counter(
		"gate.rejections",
		metric.WithDescription("Rejected access gate steps by reason"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		counter = noop.Int64Counter{}
	}
	g.rejections = counter
	return g
}

// CaptchaConfigured reports whether VerifyCaptcha can succeed at all.
func (g *Gate) CaptchaConfigured() bool {
	if g.verifier == nil {
		return false
	}
	if c, ok := g.verifier.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

// TokensConfigured reports whether tickets can be issued and redeemed.
func (g *Gate) TokensConfigured() bool {
	return g.signer != nil
}

// VerifyCaptcha moves a client from Anonymous to CaptchaVerified. On failure
// the client stays Anonymous and the error wraps ErrNotConfigured or
// ErrForbidden.
func (g *Gate) VerifyCaptcha(ctx context.Context, challenge, remoteIP string) (Session, error) {
	if g.verifier == nil {
		return Session{}, ErrNotConfigured
	}

	if err := g.verifier.Verify(ctx, challenge, remoteIP); err != nil {
		if errors.Is(err, captcha.ErrNotConfigured) {
			return Session{}, fmt.Errorf("%w: %w", ErrNotConfigured, err)
		}
		g.reject(ctx, StateAnonymous, "captcha-failed")
		g.logger.Info("Captcha verification failed", "state", StateAnonymous, "remote_ip", remoteIP, "error", err)
		return Session{}, fmt.Errorf("%w: %w", ErrForbidden, err)
	}

	issuedAt := g.now()
	return Session{
		Value:     strconv.FormatInt(issuedAt.UnixMilli(), 10),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(g.sessionTTL),
	}, nil
}

// SessionValid reports whether a session marker is present and unexpired.
func (g *Gate) SessionValid(value string) bool {
	if value == "" {
		return false
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return false
	}
	issuedAt := time.UnixMilli(ms)
	now := g.now()
	if issuedAt.After(now.Add(maxClockSkew)) {
		return false
	}
	return now.Sub(issuedAt) < g.sessionTTL
}

// IssueToken moves a CaptchaVerified client to TokenIssued for one
// (slug, locale) pair.
func (g *Gate) IssueToken(ctx context.Context, sessionValue, slug, locale, userAgent string) (Ticket, error) {
	if g.signer == nil {
		return Ticket{}, ErrNotConfigured
	}
	if !g.SessionValid(sessionValue) {
		g.reject(ctx, StateAnonymous, "no-session")
		return Ticket{}, ErrNoSession
	}
	if !models.ValidSlug(slug) || !g.localeAllowed(locale) {
		return Ticket{}, ErrInvalidScope
	}

	tok, expiresAt, err := g.signer.Issue(slug, locale, token.Fingerprint(userAgent), g.tokenTTL)
	if err != nil {
		if errors.Is(err, token.ErrInvalidScope) {
			return Ticket{}, ErrInvalidScope
		}
		return Ticket{}, err
	}

	g.logger.Debug("Download token issued", "state", StateTokenIssued, "slug", slug, "locale", locale, "expires_at", expiresAt)
	return Ticket{Token: tok, ExpiresAt: expiresAt}, nil
}

// Redeem checks a ticket at the download route. Every failure is ErrForbidden;
// the specific reason is logged and counted but never returned on its own.
func (g *Gate) Redeem(ctx context.Context, tok, slug, locale, userAgent string) error {
	if g.signer == nil {
		return ErrNotConfigured
	}

	res := g.signer.Verify(tok, slug, locale, token.Fingerprint(userAgent))
	if !res.Valid {
		g.reject(ctx, StateTokenIssued, string(res.Reason))
		g.logger.Warn("Download token rejected", "state", StateTokenIssued, "slug", slug, "locale", locale, "reason", res.Reason)
		return fmt.Errorf("%w: %s", ErrForbidden, res.Reason)
	}
	if !g.localeAllowed(locale) {
		g.reject(ctx, StateTokenIssued, "locale-not-served")
		return fmt.Errorf("%w: locale not served", ErrForbidden)
	}

	g.logger.Debug("Download token redeemed", "state", StateRedeemed, "slug", slug, "locale", locale)
	return nil
}

func (g *Gate) localeAllowed(locale string) bool {
	if !models.ValidLocale(locale) {
		return false
	}
	if len(g.locales) == 0 {
		return true
	}
	_, ok := g.locales[locale]
	return ok
}

func (g *Gate) reject(ctx context.Context, state State, reason string) {
	g.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(state)),
		attribute.String("reason", reason),
	))
}
