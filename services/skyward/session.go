package skyward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"skyassist-backend/lib/chrono"
	"skyassist-backend/lib/dedupe"
	"skyassist-backend/lib/kvstore"
	scraper "skyassist-backend/lib/scrapers/skyward"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var ErrAuthThrottled = errors.New("authentication throttled after a recent failure")

const (
	// authReuseWindow is how long a successful login answers further
	// authenticate calls without another upstream round trip.
	authReuseWindow = 2 * time.Second
	// authCooldown is how long a failed login blocks further attempts.
	authCooldown = 10 * time.Second
)

// the development sentinel pair never reaches the portal
const (
	DevUsername = "dev"
	DevPassword = "dev"
)

var devTokens = scraper.SessionTokens{
	Dwd:       "dev-dwd",
	Wfaacl:    "dev-wfaacl",
	Encses:    "dev-encses",
	UserType:  "dev",
	SessionId: "dev-session",
}

const (
	sessionDwdKey       = "session.dwd"
	sessionWfaaclKey    = "session.wfaacl"
	sessionEncsesKey    = "session.encses"
	sessionUserTypeKey  = "session.userType"
	sessionSessionIdKey = "session.sessionId"
	sessionBaseUrlKey   = "session.baseUrl"
)

var sessionKeys = []string{
	sessionDwdKey,
	sessionWfaaclKey,
	sessionEncsesKey,
	sessionUserTypeKey,
	sessionSessionIdKey,
	sessionBaseUrlKey,
}

// Authenticator exchanges credentials for session tokens.
type Authenticator interface {
	Login(ctx context.Context, creds scraper.Credentials) (scraper.SessionTokens, error)
}

// SessionManager owns the session tokens in the store and the
// authenticate workflow that mints them.
type SessionManager struct {
	store       kvstore.Store
	credentials CredentialSource
	client      Authenticator
	time        chrono.API
	inflight    dedupe.Group[scraper.SessionTokens]

	mutex       sync.Mutex
	lastSuccess time.Time
	lastFailure time.Time
	lastErr     error
}

func NewSessionManager(store kvstore.Store, credentials CredentialSource, client Authenticator, time chrono.API) *SessionManager {
	return &SessionManager{
		store:       store,
		credentials: credentials,
		client:      client,
		time:        time,
	}
}

// Session reads the stored tokens in one batch, an absent or partial set
// comes back as invalid tokens rather than an error.
func (m *SessionManager) Session(ctx context.Context) (scraper.SessionTokens, error) {
	values, err := m.store.GetMany(ctx, sessionKeys...)
	if err != nil {
		return scraper.SessionTokens{}, fmt.Errorf("read session: %w", err)
	}
	return scraper.SessionTokens{
		Dwd:       values[sessionDwdKey],
		Wfaacl:    values[sessionWfaaclKey],
		Encses:    values[sessionEncsesKey],
		UserType:  values[sessionUserTypeKey],
		SessionId: values[sessionSessionIdKey],
		BaseUrl:   values[sessionBaseUrlKey],
	}, nil
}

func (m *SessionManager) HasValidSession(ctx context.Context) bool {
	tokens, err := m.Session(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to read session", "err", err)
		return false
	}
	return tokens.Valid()
}

// saveSession replaces the stored tokens as a unit. When the write fails the
// previous set is dropped too, it belongs to a session the portal has already
// replaced.
func (m *SessionManager) saveSession(ctx context.Context, tokens scraper.SessionTokens) error {
	err := m.store.SetMany(ctx, map[string]string{
		sessionDwdKey:       tokens.Dwd,
		sessionWfaaclKey:    tokens.Wfaacl,
		sessionEncsesKey:    tokens.Encses,
		sessionUserTypeKey:  tokens.UserType,
		sessionSessionIdKey: tokens.SessionId,
		sessionBaseUrlKey:   tokens.BaseUrl,
	})
	if err == nil {
		return nil
	}
	clearErr := m.ClearSession(ctx)
	if clearErr != nil {
		slog.WarnContext(ctx, "failed to drop previous session", "err", clearErr)
	}
	return fmt.Errorf("write session: %w", err)
}

// ClearSession drops every token at once.
func (m *SessionManager) ClearSession(ctx context.Context) error {
	return m.store.Delete(ctx, sessionKeys...)
}

// Logout clears the session and forgets the recent login so the next
// authenticate call goes to the portal.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mutex.Lock()
	m.lastSuccess = time.Time{}
	m.mutex.Unlock()
	return m.ClearSession(ctx)
}

// Authenticate returns a valid session, logging in when needed. Concurrent
// callers share one login, a login that succeeded moments ago is reused and a
// recent failure is returned again until the cooldown passes.
func (m *SessionManager) Authenticate(ctx context.Context) (scraper.SessionTokens, error) {
	ctx, span := tracer.Start(ctx, "session:Authenticate")
	defer span.End()

	m.mutex.Lock()
	now := m.time.Now()
	if !m.lastFailure.IsZero() && now.Sub(m.lastFailure) < authCooldown {
		lastErr := m.lastErr
		m.mutex.Unlock()
		span.SetStatus(codes.Error, "throttled")
		return scraper.SessionTokens{}, fmt.Errorf("%w: %w", ErrAuthThrottled, lastErr)
	}
	recent := !m.lastSuccess.IsZero() && now.Sub(m.lastSuccess) < authReuseWindow
	m.mutex.Unlock()

	if recent {
		tokens, err := m.Session(ctx)
		if err == nil && tokens.Valid() {
			span.SetAttributes(attribute.Bool("reused", true))
			return tokens, nil
		}
	}

	tokens, err := m.inflight.Do(ctx, "authenticate", m.login)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return scraper.SessionTokens{}, err
	}
	return tokens, nil
}

func (m *SessionManager) login(ctx context.Context) (scraper.SessionTokens, error) {
	ctx, span := tracer.Start(ctx, "session:login")
	defer span.End()

	creds, err := m.credentials.Credentials(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load credentials")
		return scraper.SessionTokens{}, fmt.Errorf("load credentials: %w", err)
	}
	if creds.Username == "" || creds.Password == "" {
		span.SetStatus(codes.Error, "missing credentials")
		return scraper.SessionTokens{}, scraper.ErrMissingCredentials
	}

	var tokens scraper.SessionTokens
	if creds.Username == DevUsername && creds.Password == DevPassword {
		slog.InfoContext(ctx, "using development session")
		authAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "dev")))
		tokens = devTokens
		tokens.BaseUrl, _ = scraper.BaseUrlFromLink(creds.Link)
	} else {
		authAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "portal")))
		tokens, err = m.client.Login(ctx, creds)
		if err != nil {
			m.recordFailure(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
			return scraper.SessionTokens{}, err
		}
	}

	err = m.saveSession(ctx, tokens)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist session")
		return scraper.SessionTokens{}, err
	}
	m.recordSuccess()
	return tokens, nil
}

func (m *SessionManager) recordFailure(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.lastFailure = m.time.Now()
	m.lastErr = err
}

func (m *SessionManager) recordSuccess() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.lastSuccess = m.time.Now()
	m.lastFailure = time.Time{}
	m.lastErr = nil
}
