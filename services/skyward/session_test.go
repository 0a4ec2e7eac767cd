package skyward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"skyassist-backend/lib/chrono"
	"skyassist-backend/lib/kvstore"
	scraper "skyassist-backend/lib/scrapers/skyward"
	"skyassist-backend/lib/sqliteutil"

	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 9, 9, 8, 0, 0, 0, time.UTC)

func newTestSessions(creds scraper.Credentials) (*SessionManager, *fakeUpstream, *chrono.Fake, kvstore.Store) {
	upstream := newFakeUpstream()
	clock := chrono.NewFake(testStart)
	store := kvstore.NewMemory()
	return NewSessionManager(store, StaticCredentials(creds), upstream, clock), upstream, clock, store
}

var testCredentials = scraper.Credentials{
	Link:     "https://portal.example.com/scripts/seplog01.w",
	Username: "jdoe",
	Password: "hunter2",
}

func TestAuthenticatePersistsSession(t *testing.T) {
	ctx := context.Background()
	sessions, upstream, _, _ := newTestSessions(testCredentials)

	require.False(t, sessions.HasValidSession(ctx))
	tokens, err := sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, portalTokens, tokens)
	require.Equal(t, 1, upstream.logins)

	require.True(t, sessions.HasValidSession(ctx))
	stored, err := sessions.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, portalTokens, stored)

	require.NoError(t, sessions.ClearSession(ctx))
	require.False(t, sessions.HasValidSession(ctx))
}

func TestPartialSessionIsInvalid(t *testing.T) {
	ctx := context.Background()
	sessions, _, _, store := newTestSessions(testCredentials)

	_, err := sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, sessionEncsesKey))
	require.False(t, sessions.HasValidSession(ctx))
}

func TestDevelopmentBypass(t *testing.T) {
	ctx := context.Background()
	sessions, upstream, _, _ := newTestSessions(scraper.Credentials{
		Link:     "https://portal.example.com/scripts/seplog01.w",
		Username: DevUsername,
		Password: DevPassword,
	})

	tokens, err := sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.Zero(t, upstream.logins)
	require.True(t, tokens.Valid())
	require.Equal(t, "dev-dwd", tokens.Dwd)
	require.Equal(t, "https://portal.example.com/scripts/", tokens.BaseUrl)
	require.True(t, sessions.HasValidSession(ctx))
}

func TestMissingCredentials(t *testing.T) {
	ctx := context.Background()
	sessions, upstream, _, _ := newTestSessions(scraper.Credentials{Link: testCredentials.Link, Username: "jdoe"})

	_, err := sessions.Authenticate(ctx)
	require.ErrorIs(t, err, scraper.ErrMissingCredentials)
	require.Zero(t, upstream.logins)

	// a missing password is not an upstream failure and is not throttled
	_, err = sessions.Authenticate(ctx)
	require.ErrorIs(t, err, scraper.ErrMissingCredentials)
	require.NotErrorIs(t, err, ErrAuthThrottled)
}

func TestRecentSuccessIsReused(t *testing.T) {
	ctx := context.Background()
	sessions, upstream, clock, _ := newTestSessions(testCredentials)

	_, err := sessions.Authenticate(ctx)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, upstream.logins)

	clock.Advance(2 * time.Second)
	_, err = sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, upstream.logins)
}

func TestRecentSuccessNotReusedAfterClear(t *testing.T) {
	ctx := context.Background()
	sessions, upstream, _, _ := newTestSessions(testCredentials)

	_, err := sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.NoError(t, sessions.ClearSession(ctx))
	_, err = sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, upstream.logins)
}

func TestFailureCooldown(t *testing.T) {
	ctx := context.Background()
	sessions, upstream, clock, _ := newTestSessions(testCredentials)
	upstream.loginErr = scraper.ErrInvalidCredentials

	_, err := sessions.Authenticate(ctx)
	require.ErrorIs(t, err, scraper.ErrInvalidCredentials)
	require.NotErrorIs(t, err, ErrAuthThrottled)

	clock.Advance(5 * time.Second)
	_, err = sessions.Authenticate(ctx)
	require.ErrorIs(t, err, ErrAuthThrottled)
	require.ErrorIs(t, err, scraper.ErrInvalidCredentials)
	require.Equal(t, 1, upstream.logins)

	clock.Advance(5 * time.Second)
	upstream.loginErr = nil
	_, err = sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, upstream.logins)
}

func TestConcurrentAuthenticateSharesLogin(t *testing.T) {
	ctx := context.Background()
	sessions, upstream, _, _ := newTestSessions(testCredentials)
	upstream.loginGate = make(chan struct{})

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sessions.Authenticate(ctx)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(upstream.loginGate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, upstream.logins)
}

func TestLogoutForgetsRecentLogin(t *testing.T) {
	ctx := context.Background()
	sessions, upstream, _, _ := newTestSessions(testCredentials)

	_, err := sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.NoError(t, sessions.Logout(ctx))
	require.False(t, sessions.HasValidSession(ctx))

	_, err = sessions.Authenticate(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, upstream.logins)
}

func TestStoredCredentials(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	source := NewStoredCredentials(store)

	creds, err := source.Credentials(ctx)
	require.NoError(t, err)
	require.Equal(t, scraper.Credentials{}, creds)

	require.NoError(t, source.Save(ctx, testCredentials))
	creds, err = source.Credentials(ctx)
	require.NoError(t, err)
	require.Equal(t, testCredentials, creds)

	require.NoError(t, source.Clear(ctx))
	creds, err = source.Credentials(ctx)
	require.NoError(t, err)
	require.Empty(t, creds.Username)
}

// failingStore rejects every batch write while reads and deletes go through.
type failingStore struct {
	*kvstore.Memory
}

func (failingStore) SetMany(context.Context, map[string]string) error {
	return errors.New("disk full")
}

var staleTokens = scraper.SessionTokens{
	Dwd:       "OLD",
	Wfaacl:    "OLD",
	Encses:    "OLD",
	UserType:  "OLD",
	SessionId: "OLD",
	BaseUrl:   "https://portal.example.com/scripts/",
}

func TestFailedSaveLeavesNoSession(t *testing.T) {
	ctx := context.Background()
	upstream := newFakeUpstream()
	clock := chrono.NewFake(testStart)
	memory := kvstore.NewMemory()
	sessions := NewSessionManager(failingStore{memory}, StaticCredentials(testCredentials), upstream, clock)

	require.NoError(t, memory.SetMany(ctx, map[string]string{
		sessionDwdKey:       staleTokens.Dwd,
		sessionWfaaclKey:    staleTokens.Wfaacl,
		sessionEncsesKey:    staleTokens.Encses,
		sessionUserTypeKey:  staleTokens.UserType,
		sessionSessionIdKey: staleTokens.SessionId,
		sessionBaseUrlKey:   staleTokens.BaseUrl,
	}))
	require.True(t, sessions.HasValidSession(ctx))

	clock.Advance(time.Minute)
	_, err := sessions.Authenticate(ctx)
	require.Error(t, err)
	require.Equal(t, 1, upstream.logins)

	stored, err := sessions.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, scraper.SessionTokens{}, stored)
	require.False(t, sessions.HasValidSession(ctx))
}

func TestFailedSqlSaveKeepsNoMixedTokens(t *testing.T) {
	ctx := context.Background()
	db, err := sqliteutil.OpenDB(kvstore.Schema, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	store := kvstore.NewSQL(db)
	sessions := NewSessionManager(store, StaticCredentials(testCredentials), newFakeUpstream(), chrono.NewFake(testStart))

	require.NoError(t, sessions.saveSession(ctx, staleTokens))
	// rejecting a single token row aborts the whole save
	_, err = db.Exec(`create trigger reject_encses before update on kv when new.key = 'session.encses'
		begin select raise(abort, 'rejected'); end;`)
	require.NoError(t, err)

	_, err = sessions.Authenticate(ctx)
	require.Error(t, err)

	stored, err := sessions.Session(ctx)
	require.NoError(t, err)
	require.NotEqual(t, "dwd", stored.Dwd)
	require.False(t, stored.Valid())
}
