package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/finroute/finroute/pkg/config"
	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/metrics"
	"golang.org/x/sync/singleflight"
	"go.uber.org/zap"
)

// ErrCredentialsRejected must be returned (or wrapped) by an Authenticator
// when the provider rejects the configured credentials. It is fatal: the
// manager stops retrying and every later GetToken fails fast.
var ErrCredentialsRejected = errors.New("credentials rejected")

// ErrSessionFailed is returned once the manager has entered its terminal
// failed state.
var ErrSessionFailed = errors.New("session permanently failed")

// Authenticator performs one login or refresh against the provider. The
// manager owns scheduling, serialization and retries; implementations only
// talk to the wire.
type Authenticator interface {
	Authenticate(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// Token is an opaque handle on the active session credential. Callers attach
// it to outgoing requests; the raw value never leaves this package.
type Token struct {
	value string
}

// IsZero reports whether the token is empty.
func (t Token) IsZero() bool { return t.value == "" }

// Apply sets the session credential on an outgoing request.
func (t Token) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+t.value)
}

type session struct {
	token     string
	issuedAt  time.Time
	expiresAt time.Time
}

// Manager maintains the single authenticated session required by the
// stateful provider. At most one authentication or refresh operation runs
// process-wide; concurrent GetToken calls during a renewal wait on the
// in-flight operation instead of issuing duplicate logins, which would
// invalidate each other's sessions on the provider side. Reads of an active
// token take no lock.
type Manager struct {
	auth Authenticator
	cfg  config.SessionConfig

	current atomic.Value // *session, nil until first login
	failed  atomic.Bool
	group   singleflight.Group
}

// NewManager creates a manager in the unauthenticated state. The first
// GetToken call performs the initial login.
func NewManager(auth Authenticator, cfg config.SessionConfig) *Manager {
	return &Manager{auth: auth, cfg: cfg}
}

// GetToken returns the active session token, renewing first when the session
// is missing, expired, or inside the proactive refresh margin.
func (m *Manager) GetToken(ctx context.Context) (Token, error) {
	if m.failed.Load() {
		return Token{}, ErrSessionFailed
	}

	if s, ok := m.current.Load().(*session); ok && s != nil && m.fresh(s) {
		return Token{value: s.token}, nil
	}

	metrics.SessionWaiters.Inc()
	defer metrics.SessionWaiters.Dec()

	v, err, _ := m.group.Do("renew", func() (interface{}, error) {
		// A renewal that finished while we were queued is good enough.
		if s, ok := m.current.Load().(*session); ok && s != nil && m.fresh(s) {
			return s, nil
		}
		return m.renew(ctx)
	})
	if err != nil {
		return Token{}, err
	}
	return Token{value: v.(*session).token}, nil
}

// Invalidate drops the current session so the next GetToken re-authenticates.
// Adapters call this when the provider answers with an auth failure despite a
// token the manager considered fresh.
func (m *Manager) Invalidate() {
	m.current.Store((*session)(nil))
}

// ExpiresAt returns the current session expiry, or the zero time when no
// session is active. Exposed for the status endpoint only.
func (m *Manager) ExpiresAt() time.Time {
	if s, ok := m.current.Load().(*session); ok && s != nil {
		return s.expiresAt
	}
	return time.Time{}
}

func (m *Manager) fresh(s *session) bool {
	return time.Now().Before(s.expiresAt.Add(-m.cfg.RefreshMargin))
}

// renew performs one serialized authentication with capped exponential
// backoff on transient failures. Credential rejection aborts immediately and
// is terminal.
func (m *Manager) renew(ctx context.Context) (*session, error) {
	start := time.Now()

	var tok string
	var expires time.Time
	op := func() error {
		var err error
		tok, expires, err = m.auth.Authenticate(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCredentialsRejected) {
			return backoff.Permanent(err)
		}
		logger.Log.Warn("session renewal attempt failed", zap.Error(err))
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.cfg.MaxAuthRetries), ctx)
	err := backoff.Retry(op, policy)

	metrics.SessionRenewalDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrCredentialsRejected) {
			m.failed.Store(true)
			metrics.SessionRenewals.WithLabelValues("fatal").Inc()
			logger.Log.Error("session failed permanently: credentials rejected")
			return nil, fmt.Errorf("session renewal: %w", err)
		}
		metrics.SessionRenewals.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("session renewal exhausted retries: %w", err)
	}

	if expires.IsZero() {
		expires = expiryFromToken(tok)
	}

	s := &session{token: tok, issuedAt: time.Now(), expiresAt: expires}
	m.current.Store(s)
	metrics.SessionRenewals.WithLabelValues("success").Inc()
	logger.Log.Info("session active", zap.Time("expires_at", s.expiresAt))
	return s, nil
}

// defaultLifetime is assumed when the provider gives no usable expiry.
const defaultLifetime = 6 * time.Hour

// expiryFromToken extracts the exp claim when the provider hands back a JWT
// access token without an explicit expiry. The signature is the provider's
// business; we only schedule refreshes off the claim.
func expiryFromToken(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(defaultLifetime)
}
