// Package identity resolves the current user and their bearer credential.
// Tokens are re-resolved per request and never handed out past expiry; the
// remote endpoint owns signature verification, so claims are read unverified
// here only to learn the subject and expiry.
package identity

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"maisoku/internal/domain"
)

// TokenSource supplies the raw bearer credential. Implementations may read a
// cached credential or perform a network refresh.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed credential. Useful for tests and
// short-lived CLI invocations.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// FileTokenSource re-reads the credential file on every call, so an external
// refresher can rotate it underneath a running session.
type FileTokenSource struct {
	Path string
}

func (f FileTokenSource) Token(context.Context) (string, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Provider implements ports.IdentityProvider over a TokenSource.
type Provider struct {
	source TokenSource
	logger *slog.Logger
	leeway time.Duration
	now    func() time.Time
}

// Option customizes the provider.
type Option func(*Provider)

// WithLeeway treats tokens expiring within d as already expired, so a
// credential cannot lapse mid-request.
func WithLeeway(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.leeway = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProvider(source TokenSource, opts ...Option) *Provider {
	p := &Provider{
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		leeway: 30 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CurrentIdentity returns the authenticated user, or (nil, nil) when the
// caller is anonymous. A missing, malformed, or expired credential is an
// anonymous outcome, not an error.
func (p *Provider) CurrentIdentity(ctx context.Context) (*domain.Identity, error) {
	claims, _, ok := p.resolve(ctx)
	if !ok {
		return nil, nil
	}
	return &domain.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// BearerToken returns a non-expired credential for the given identity or
// domain.ErrAuthenticationRequired.
func (p *Provider) BearerToken(ctx context.Context, identity *domain.Identity) (string, error) {
	if identity == nil {
		return "", domain.ErrAuthenticationRequired
	}
	claims, token, ok := p.resolve(ctx)
	if !ok {
		return "", domain.ErrAuthenticationRequired
	}
	if claims.Subject != identity.UserID {
		// The signed-in user changed underneath the session.
		p.logger.Warn("credential subject mismatch", "expected", identity.UserID, "got", claims.Subject)
		return "", domain.ErrAuthenticationRequired
	}
	return token, nil
}

func (p *Provider) resolve(ctx context.Context) (tokenClaims, string, bool) {
	var claims tokenClaims

	token, err := p.source.Token(ctx)
	if err != nil {
		p.logger.Debug("token source failed", "error", err)
		return claims, "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, "", false
	}

	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		p.logger.Debug("credential not parseable", "error", err)
		return claims, "", false
	}
	if claims.Subject == "" {
		return claims, "", false
	}
	if claims.ExpiresAt != nil && !p.now().Add(p.leeway).Before(claims.ExpiresAt.Time) {
		p.logger.Debug("credential expired", "expires", claims.ExpiresAt.Time)
		return claims, "", false
	}
	return claims, token, true
}
