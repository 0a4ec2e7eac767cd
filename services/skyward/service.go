package skyward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"skyassist-backend/lib/cache"
	"skyassist-backend/lib/chrono"
	"skyassist-backend/lib/configutil"
	"skyassist-backend/lib/dedupe"
	"skyassist-backend/lib/gradecalc"
	"skyassist-backend/lib/kvstore"
	scraper "skyassist-backend/lib/scrapers/skyward"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var (
	ErrRetryExhausted = errors.New("session expired again after re-authenticating")
	ErrInvalidRequest = errors.New("invalid request")
)

const (
	maxAttempts       = 2
	maxMessageBatches = 4

	defaultFetchTimeout = 8 * time.Second
	defaultCombinedTTL  = 10 * time.Minute
	defaultMessagesTTL  = 5 * time.Minute
	defaultGradeInfoTTL = 5 * time.Minute

	combinedCacheKey = "combined"
	messagesCacheKey = "messages"
)

// Upstream is the portal client the service drives.
type Upstream interface {
	Authenticator
	FetchHome(ctx context.Context, tokens scraper.SessionTokens) (string, error)
	FetchMoreMessages(ctx context.Context, tokens scraper.SessionTokens, lastId string) (string, error)
	FetchGradebook(ctx context.Context, tokens scraper.SessionTokens) (string, error)
	FetchGradeInfo(ctx context.Context, tokens scraper.SessionTokens, params scraper.GradeInfoParams) (string, error)
	FetchHistory(ctx context.Context, tokens scraper.SessionTokens) (string, error)
}

type Options struct {
	Client      Upstream
	Store       kvstore.Store
	Credentials CredentialSource
	Cache       cache.Cache
	Time        chrono.API

	// FetchTimeout bounds the parallel history and gradebook fetch before
	// falling back to fetching them one after the other.
	FetchTimeout time.Duration
	CombinedTTL  time.Duration
	MessagesTTL  time.Duration
	GradeInfoTTL time.Duration
}

type MessagePage struct {
	Messages []scraper.Message `json:"messages"`
	// LastMessageRowId is the cursor for the next LoadMoreMessages call, it
	// is empty when the portal has nothing more.
	LastMessageRowId string `json:"lastMessageRowId"`
}

type GradeInfoResult struct {
	Info    scraper.GradeInfo `json:"info"`
	Summary gradecalc.Summary `json:"summary"`
}

type Service struct {
	client   Upstream
	sessions *SessionManager
	cache    cache.Cache
	time     chrono.API

	fetchTimeout time.Duration
	combinedTTL  time.Duration
	messagesTTL  time.Duration
	gradeInfoTTL time.Duration

	combined  dedupe.Group[CombinedData]
	messages  dedupe.Group[MessagePage]
	gradeInfo dedupe.Group[GradeInfoResult]
}

func withDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func NewService(opts Options) *Service {
	if opts.Time == nil {
		opts.Time = chrono.NewStandardImpl()
	}
	return &Service{
		client:       opts.Client,
		sessions:     NewSessionManager(opts.Store, opts.Credentials, opts.Client, opts.Time),
		cache:        opts.Cache,
		time:         opts.Time,
		fetchTimeout: withDefault(opts.FetchTimeout, defaultFetchTimeout),
		combinedTTL:  withDefault(opts.CombinedTTL, defaultCombinedTTL),
		messagesTTL:  withDefault(opts.MessagesTTL, defaultMessagesTTL),
		gradeInfoTTL: withDefault(opts.GradeInfoTTL, defaultGradeInfoTTL),
	}
}

// withSession runs fn with a valid session. An expired session is cleared and
// re-authenticated once, a second expiry is returned as ErrRetryExhausted.
func withSession[T any](ctx context.Context, s *Service, operation string, fn func(ctx context.Context, tokens scraper.SessionTokens) (T, error)) (T, error) {
	var zero T
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tokens, err := s.sessions.Session(ctx)
		if err != nil {
			return zero, err
		}
		if !tokens.Valid() {
			tokens, err = s.sessions.Authenticate(ctx)
			if err != nil {
				return zero, err
			}
		}

		result, err := fn(ctx, tokens)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, scraper.ErrSessionExpired) {
			return zero, err
		}

		sessionExpiries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
		slog.InfoContext(ctx, "session expired", "operation", operation, "attempt", attempt)
		err = s.sessions.ClearSession(ctx)
		if err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w: %s: %w", ErrRetryExhausted, operation, scraper.ErrSessionExpired)
}

func (s *Service) readCache(ctx context.Context, key string, out any) bool {
	hit, err := s.cache.Get(ctx, key, out)
	if err != nil {
		slog.WarnContext(ctx, "failed to read cache", "key", key, "err", err)
		return false
	}
	return hit
}

func (s *Service) writeCache(ctx context.Context, key string, data any, ttl time.Duration) {
	err := s.cache.Set(ctx, key, data, ttl)
	if err != nil {
		slog.WarnContext(ctx, "failed to write cache", "key", key, "err", err)
	}
}

func (s *Service) Authenticate(ctx context.Context) Result[struct{}] {
	_, err := s.sessions.Authenticate(ctx)
	return envelope(struct{}{}, err)
}

func (s *Service) HasValidSession(ctx context.Context) bool {
	return s.sessions.HasValidSession(ctx)
}

// Logout drops the session and everything cached under it.
func (s *Service) Logout(ctx context.Context) Result[struct{}] {
	err := s.sessions.Logout(ctx)
	if err != nil {
		return fail[struct{}](err)
	}
	return envelope(struct{}{}, s.cache.Clear(ctx))
}

func (s *Service) ClearCache(ctx context.Context) Result[struct{}] {
	return envelope(struct{}{}, s.cache.Clear(ctx))
}

// CleanupCache sweeps expired cache entries and returns how many it removed.
func (s *Service) CleanupCache(ctx context.Context) Result[int] {
	removed, err := s.cache.Cleanup(ctx)
	return envelope(removed, err)
}

// paginate follows the "load more" cursor from lastId. Batches are fetched one
// at a time since each is addressed by the previous batch's last row id.
// Paging stops at the batch cap, once limit messages are in hand, when the
// portal returns no id or when it returns the same id again.
func (s *Service) paginate(ctx context.Context, tokens scraper.SessionTokens, lastId string, have, limit int) (string, string, error) {
	var markup strings.Builder
	cursor := lastId
	for batch := 0; batch < maxMessageBatches && cursor != ""; batch++ {
		if limit > 0 && have >= limit {
			break
		}
		page, err := s.client.FetchMoreMessages(ctx, tokens, cursor)
		if err != nil {
			return "", "", err
		}
		markup.WriteString(page)

		messages, err := scraper.ParseMessages(ctx, page)
		if err == nil {
			have += len(messages)
		}
		next := scraper.LastMessageRowId(page)
		if next == "" {
			cursor = ""
			break
		}
		if next == cursor {
			break
		}
		cursor = next
	}
	return markup.String(), cursor, nil
}

var messageDateLayouts = []string{
	"Mon Jan 2, 2006 3:04pm",
	"Mon Jan 2, 2006 3:04 PM",
	"Mon Jan 2, 2006",
	"Jan 2, 2006 3:04pm",
	"Jan 2, 2006",
	"01/02/2006 3:04 PM",
	"01/02/2006",
}

func parseMessageDate(date string) time.Time {
	for _, layout := range messageDateLayouts {
		t, err := time.Parse(layout, date)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// sortMessages orders messages newest first, messages with an unreadable
// date keep their relative order at the end.
func sortMessages(messages []scraper.Message) {
	dates := make(map[string]time.Time, len(messages))
	for _, m := range messages {
		dates[m.MessageRowId+"\x00"+m.Date] = parseMessageDate(m.Date)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		a := dates[messages[i].MessageRowId+"\x00"+messages[i].Date]
		b := dates[messages[j].MessageRowId+"\x00"+messages[j].Date]
		return a.After(b)
	})
}

func (s *Service) messagePage(ctx context.Context, markup, cursor string) (MessagePage, error) {
	messages, err := scraper.ParseMessages(ctx, markup)
	if err != nil {
		return MessagePage{}, err
	}
	if messages == nil {
		messages = []scraper.Message{}
	}
	sortMessages(messages)
	return MessagePage{Messages: messages, LastMessageRowId: cursor}, nil
}

func (s *Service) loadMessages(ctx context.Context) (MessagePage, error) {
	var cached MessagePage
	if s.readCache(ctx, messagesCacheKey, &cached) {
		return cached, nil
	}

	return s.messages.Do(ctx, messagesCacheKey, func(ctx context.Context) (MessagePage, error) {
		page, err := withSession(ctx, s, "load messages", func(ctx context.Context, tokens scraper.SessionTokens) (MessagePage, error) {
			home, err := s.client.FetchHome(ctx, tokens)
			if err != nil {
				return MessagePage{}, err
			}
			initial, err := scraper.ParseMessages(ctx, home)
			if err != nil {
				return MessagePage{}, err
			}
			more, cursor, err := s.paginate(ctx, tokens, scraper.LastMessageRowId(home), len(initial), 0)
			if err != nil {
				return MessagePage{}, err
			}
			return s.messagePage(ctx, home+more, cursor)
		})
		if err != nil {
			return MessagePage{}, err
		}
		s.writeCache(ctx, messagesCacheKey, page, s.messagesTTL)
		return page, nil
	})
}

// LoadMessages returns the home page messages together with up to four
// further batches, newest first.
func (s *Service) LoadMessages(ctx context.Context) Result[MessagePage] {
	ctx, span := tracer.Start(ctx, "service:LoadMessages")
	defer span.End()

	page, err := s.loadMessages(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load messages")
	}
	return envelope(page, err)
}

// LoadMoreMessages continues paging after lastId. A positive limit stops
// paging once that many messages have been collected.
func (s *Service) LoadMoreMessages(ctx context.Context, lastId string, limit int) Result[MessagePage] {
	ctx, span := tracer.Start(ctx, "service:LoadMoreMessages")
	defer span.End()

	if strings.TrimSpace(lastId) == "" {
		return fail[MessagePage](fmt.Errorf("%w: last message row id is required", ErrInvalidRequest))
	}

	key := fmt.Sprintf("more:%s:%d", lastId, limit)
	page, err := s.messages.Do(ctx, key, func(ctx context.Context) (MessagePage, error) {
		return withSession(ctx, s, "load more messages", func(ctx context.Context, tokens scraper.SessionTokens) (MessagePage, error) {
			more, cursor, err := s.paginate(ctx, tokens, lastId, 0, limit)
			if err != nil {
				return MessagePage{}, err
			}
			return s.messagePage(ctx, more, cursor)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load more messages")
	}
	return envelope(page, err)
}

func gradeInfoCacheKey(params scraper.GradeInfoParams) string {
	return strings.Join([]string{
		"gradeInfo",
		params.StudentId,
		params.CorNumId,
		params.Section,
		params.GbId,
		normalizeBucket(params.Bucket),
	}, ":")
}

// summarize feeds the dialog's categories into the aggregation engine. An
// adjusted weight takes precedence over the nominal one.
func summarize(info scraper.GradeInfo) gradecalc.Summary {
	weights := map[string]float64{}
	var assignments []gradecalc.Assignment
	for _, category := range info.Categories {
		switch {
		case category.AdjustedWeight != nil:
			weights[category.Category] = *category.AdjustedWeight
		case category.Weight != nil:
			weights[category.Category] = *category.Weight
		}

		for _, a := range category.Assignments {
			assignment := gradecalc.Assignment{
				Name:     a.Name,
				Category: category.Category,
				Ungraded: a.Ungraded,
				NoCount:  a.HasMeta(scraper.MetaNoCount),
			}
			if a.Points != nil {
				assignment.Points = &gradecalc.Points{Earned: a.Points.Earned, Total: a.Points.Total}
			}
			switch {
			case a.Score != nil:
				grade := *a.Score
				assignment.Grade = &grade
			case a.Grade != nil:
				grade := float64(*a.Grade)
				assignment.Grade = &grade
			}
			assignments = append(assignments, assignment)
		}
	}
	return gradecalc.Summarize(assignments, weights)
}

// FetchGradeInfo returns the assignment breakdown of one course bucket along
// with its weighted summary.
func (s *Service) FetchGradeInfo(ctx context.Context, params scraper.GradeInfoParams) Result[GradeInfoResult] {
	ctx, span := tracer.Start(ctx, "service:FetchGradeInfo")
	defer span.End()

	err := configutil.Validate(params)
	if err != nil {
		return fail[GradeInfoResult](fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	key := gradeInfoCacheKey(params)
	var cached GradeInfoResult
	if s.readCache(ctx, key, &cached) {
		return succeed(cached)
	}

	result, err := s.gradeInfo.Do(ctx, key, func(ctx context.Context) (GradeInfoResult, error) {
		markup, err := withSession(ctx, s, "fetch grade info", func(ctx context.Context, tokens scraper.SessionTokens) (string, error) {
			return s.client.FetchGradeInfo(ctx, tokens, params)
		})
		if err != nil {
			return GradeInfoResult{}, err
		}
		info, err := scraper.ParseGradeInfo(ctx, markup)
		if err != nil {
			return GradeInfoResult{}, err
		}
		result := GradeInfoResult{Info: info, Summary: summarize(info)}
		s.writeCache(ctx, key, result, s.gradeInfoTTL)
		return result, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch grade info")
	}
	return envelope(result, err)
}

type sources struct {
	history   string
	gradebook string
}

// fetchSources fetches the history and gradebook pages in parallel. When the
// pair does not finish within the fetch timeout both are fetched again one
// after the other.
func (s *Service) fetchSources(ctx context.Context, tokens scraper.SessionTokens) (sources, error) {
	ctx, span := tracer.Start(ctx, "service:fetchSources")
	defer span.End()

	parallelCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	var result sources
	group, groupCtx := errgroup.WithContext(parallelCtx)
	group.Go(func() error {
		history, err := s.client.FetchHistory(groupCtx, tokens)
		result.history = history
		return err
	})
	group.Go(func() error {
		gradebook, err := s.client.FetchGradebook(groupCtx, tokens)
		result.gradebook = gradebook
		return err
	})
	err := group.Wait()
	if err == nil {
		return result, nil
	}
	if errors.Is(err, scraper.ErrSessionExpired) ||
		!errors.Is(parallelCtx.Err(), context.DeadlineExceeded) ||
		ctx.Err() != nil {
		return sources{}, err
	}

	slog.WarnContext(ctx, "parallel fetch timed out, fetching sequentially", "timeout", s.fetchTimeout)
	span.SetAttributes(attribute.Bool("sequential_fallback", true))

	history, err := s.client.FetchHistory(ctx, tokens)
	if err != nil {
		return sources{}, err
	}
	gradebook, err := s.client.FetchGradebook(ctx, tokens)
	if err != nil {
		return sources{}, err
	}
	return sources{history: history, gradebook: gradebook}, nil
}

func (s *Service) combinedData(ctx context.Context) (CombinedData, error) {
	fetched, err := withSession(ctx, s, "combined data", s.fetchSources)
	if err != nil {
		return CombinedData{}, err
	}

	history, err := scraper.ParseHistory(ctx, fetched.history)
	if err != nil {
		return CombinedData{}, err
	}
	courses, err := scraper.ParseGradebook(ctx, fetched.gradebook)
	if err != nil {
		return CombinedData{}, err
	}
	return Combine(ctx, history, courses), nil
}

// GetCombinedData returns the live gradebook reconciled with the academic
// history, served from cache unless forceRefresh is set.
func (s *Service) GetCombinedData(ctx context.Context, forceRefresh bool) Result[CombinedData] {
	ctx, span := tracer.Start(ctx, "service:GetCombinedData")
	defer span.End()
	span.SetAttributes(attribute.Bool("force_refresh", forceRefresh))

	if !forceRefresh {
		var cached CombinedData
		if s.readCache(ctx, combinedCacheKey, &cached) {
			return succeed(cached)
		}
	}

	data, err := s.combined.Do(ctx, combinedCacheKey, func(ctx context.Context) (CombinedData, error) {
		data, err := s.combinedData(ctx)
		if err != nil {
			return CombinedData{}, err
		}
		s.writeCache(ctx, combinedCacheKey, data, s.combinedTTL)
		return data, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get combined data")
		slog.WarnContext(ctx, "failed to get combined data", "err", err)
	}
	return envelope(data, err)
}
