package skyward

import (
	"context"
	"testing"
	"time"

	"skyassist-backend/lib/cache"
	"skyassist-backend/lib/chrono"
	"skyassist-backend/lib/kvstore"
	scraper "skyassist-backend/lib/scrapers/skyward"

	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	service  *Service
	upstream *fakeUpstream
	clock    *chrono.Fake
	cache    cache.Cache
}

func newServiceFixture(creds scraper.Credentials) serviceFixture {
	upstream := newFakeUpstream()
	upstream.home = messagesPage("3", "2")
	upstream.history = historyFixture
	upstream.gradebook = gradebookFixture
	upstream.gradeInfo = gradeInfoFixture

	clock := chrono.NewFake(testStart)
	store := cache.New(cache.NewMemory(), clock)
	service := NewService(Options{
		Client:       upstream,
		Store:        kvstore.NewMemory(),
		Credentials:  StaticCredentials(creds),
		Cache:        store,
		Time:         clock,
		FetchTimeout: 100 * time.Millisecond,
	})
	return serviceFixture{service: service, upstream: upstream, clock: clock, cache: store}
}

func TestGetCombinedData(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)

	res := f.service.GetCombinedData(ctx, false)
	require.True(t, res.Success, res.Error)
	require.Nil(t, res.Error)

	courses := res.Data.Courses
	require.Len(t, courses, 2)
	require.Equal(t, "678_1_9001", courses[0].Key)
	require.Equal(t, "91", courses[0].HistoricalGrades.Rc1)
	require.Equal(t, "79", courses[0].HistoricalGrades.Ex1)
	require.Equal(t, "81", courses[0].HistoricalGrades.Ex2)
	require.Equal(t, "1-4", courses[1].HistoricalGrades.Terms)

	latest := res.Data.History["2024-2025"]
	require.Len(t, latest.Courses, 2)
	require.Contains(t, res.Data.History, "2023-2024")
	require.Equal(t, portalTokens, f.upstream.lastTokens)
}

func TestGetCombinedDataUsesCache(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)

	require.True(t, f.service.GetCombinedData(ctx, false).Success)
	require.True(t, f.service.GetCombinedData(ctx, false).Success)
	require.Equal(t, 1, f.upstream.gradebookCalls)

	require.True(t, f.service.GetCombinedData(ctx, true).Success)
	require.Equal(t, 2, f.upstream.gradebookCalls)

	f.clock.Advance(defaultCombinedTTL)
	require.True(t, f.service.GetCombinedData(ctx, false).Success)
	require.Equal(t, 3, f.upstream.gradebookCalls)

	require.True(t, f.service.ClearCache(ctx).Success)
	require.True(t, f.service.GetCombinedData(ctx, false).Success)
	require.Equal(t, 4, f.upstream.gradebookCalls)
}

func TestGetCombinedDataReauthenticatesOnce(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	f.upstream.expire["gradebook"] = 1

	res := f.service.GetCombinedData(ctx, false)
	require.True(t, res.Success, res.Error)
	require.Equal(t, 2, f.upstream.logins)
}

func TestGetCombinedDataRetryExhausted(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	f.upstream.expire["history"] = 5

	res := f.service.GetCombinedData(ctx, false)
	require.False(t, res.Success)
	require.Nil(t, res.Data)
	require.Equal(t, "retry_exhausted", res.Error.Kind)
	require.Equal(t, 2, f.upstream.logins)
	require.Equal(t, 3, f.upstream.expire["history"])
}

func TestGetCombinedDataSequentialFallback(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	f.upstream.historyStall = true

	res := f.service.GetCombinedData(ctx, false)
	require.True(t, res.Success, res.Error)
	require.Equal(t, 2, f.upstream.historyCalls)
	require.Len(t, res.Data.Courses, 2)
}

func TestGetCombinedDataMissingCredentials(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(scraper.Credentials{Link: testCredentials.Link})

	res := f.service.GetCombinedData(ctx, false)
	require.False(t, res.Success)
	require.Equal(t, "missing_credentials", res.Error.Kind)
	require.Zero(t, f.upstream.gradebookCalls)
}

func TestGetCombinedDataInvalidCredentials(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	f.upstream.loginErr = scraper.ErrInvalidCredentials

	res := f.service.GetCombinedData(ctx, false)
	require.Equal(t, "invalid_credentials", res.Error.Kind)

	res = f.service.GetCombinedData(ctx, false)
	require.Equal(t, "auth_throttled", res.Error.Kind)
	require.Equal(t, 1, f.upstream.logins)
}

func TestGetCombinedDataParseError(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	f.upstream.history = "<html><body>maintenance</body></html>"

	res := f.service.GetCombinedData(ctx, false)
	require.False(t, res.Success)
	require.Equal(t, "parse", res.Error.Kind)
}

func TestLoadMessages(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	f.upstream.more["2"] = messagesPage("1")

	res := f.service.LoadMessages(ctx)
	require.True(t, res.Success, res.Error)

	ids := []string{}
	for _, m := range res.Data.Messages {
		ids = append(ids, m.MessageRowId)
	}
	require.Equal(t, []string{"2", "3", "1"}, ids)
	require.Equal(t, "Message 3", res.Data.Messages[1].Content)
	require.Equal(t, []string{"2", "1"}, f.upstream.moreCalls)
	require.Empty(t, res.Data.LastMessageRowId)

	// served from cache
	require.True(t, f.service.LoadMessages(ctx).Success)
	require.Equal(t, []string{"2", "1"}, f.upstream.moreCalls)
}

func TestLoadMessagesStopsOnRepeatedCursor(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	f.upstream.home = messagesPage("10")
	f.upstream.more["10"] = messagesPage("10")
	f.upstream.more["20"] = messagesPage("20")

	res := f.service.LoadMessages(ctx)
	require.True(t, res.Success, res.Error)
	require.Equal(t, []string{"10"}, f.upstream.moreCalls)
	require.Len(t, res.Data.Messages, 1)
	require.Equal(t, "10", res.Data.LastMessageRowId)
}

func TestLoadMoreMessagesBatchCap(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	f.upstream.more["100"] = messagesPage("99")
	f.upstream.more["99"] = messagesPage("98")
	f.upstream.more["98"] = messagesPage("97")
	f.upstream.more["97"] = messagesPage("96")
	f.upstream.more["96"] = messagesPage("95")

	res := f.service.LoadMoreMessages(ctx, "100", 0)
	require.True(t, res.Success, res.Error)
	require.Equal(t, []string{"100", "99", "98", "97"}, f.upstream.moreCalls)
	require.Len(t, res.Data.Messages, 4)
	require.Equal(t, "96", res.Data.LastMessageRowId)
}

func TestLoadMoreMessagesLimit(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	f.upstream.more["100"] = messagesPage("99")
	f.upstream.more["99"] = messagesPage("98")
	f.upstream.more["98"] = messagesPage("97")

	res := f.service.LoadMoreMessages(ctx, "100", 2)
	require.True(t, res.Success, res.Error)
	require.Equal(t, []string{"100", "99"}, f.upstream.moreCalls)
	require.Equal(t, "98", res.Data.LastMessageRowId)

	res = f.service.LoadMoreMessages(ctx, " ", 2)
	require.Equal(t, "invalid_request", res.Error.Kind)
}

func TestFetchGradeInfo(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)
	params := scraper.GradeInfoParams{
		StudentId: "12345",
		CorNumId:  "678",
		Section:   "1",
		GbId:      "9001",
		Bucket:    "TERM 3",
	}

	res := f.service.FetchGradeInfo(ctx, params)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Data.Info.Categories, 3)

	summary := res.Data.Summary
	require.InDelta(t, 28.57, summary.Categories["DAILY"].Weight, 0.01)
	require.InDelta(t, 71.43, summary.Categories["MAJOR"].Weight, 0.01)
	require.NotContains(t, summary.Categories, "LABS")
	require.InDelta(t, 82.86, summary.CourseTotal, 0.01)

	require.True(t, f.service.FetchGradeInfo(ctx, params).Success)
	require.Equal(t, 1, f.upstream.gradeInfoCalls)

	params.Bucket = ""
	res = f.service.FetchGradeInfo(ctx, params)
	require.Equal(t, "invalid_request", res.Error.Kind)
}

func TestAuthenticateAndLogout(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)

	require.False(t, f.service.HasValidSession(ctx))
	require.True(t, f.service.Authenticate(ctx).Success)
	require.True(t, f.service.HasValidSession(ctx))

	require.True(t, f.service.GetCombinedData(ctx, false).Success)
	hit, err := f.cache.Has(ctx, combinedCacheKey)
	require.NoError(t, err)
	require.True(t, hit)

	require.True(t, f.service.Logout(ctx).Success)
	require.False(t, f.service.HasValidSession(ctx))
	hit, err = f.cache.Has(ctx, combinedCacheKey)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestCleanupCache(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(testCredentials)

	require.True(t, f.service.GetCombinedData(ctx, false).Success)
	require.True(t, f.service.LoadMessages(ctx).Success)
	f.clock.Advance(defaultMessagesTTL)

	res := f.service.CleanupCache(ctx)
	require.True(t, res.Success)
	require.Equal(t, 1, *res.Data)
}
