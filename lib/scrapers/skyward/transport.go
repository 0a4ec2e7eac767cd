package skyward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"skyassist-backend/lib/htmlutil"
	"skyassist-backend/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// Endpoint is one of the portal's fixed relative paths together with the
// timeout a call to it is given.
type Endpoint struct {
	Name    string
	Path    string
	Timeout time.Duration
}

var (
	EndpointLogin        = Endpoint{Name: "login", Path: "skyporthttp.w", Timeout: 15 * time.Second}
	EndpointHome         = Endpoint{Name: "home", Path: "sfhome01.w", Timeout: 20 * time.Second}
	EndpointMoreMessages = Endpoint{Name: "more_messages", Path: "httploader.p?file=sfhome01.w", Timeout: 15 * time.Second}
	EndpointGradebook    = Endpoint{Name: "gradebook", Path: "sfgradebook001.w", Timeout: 30 * time.Second}
	EndpointGradeInfo    = Endpoint{Name: "grade_info", Path: "httploader.p?file=sfgradebook001.w", Timeout: 15 * time.Second}
	EndpointHistory      = Endpoint{Name: "history", Path: "sfacademichistory001.w", Timeout: 30 * time.Second}
)

const (
	maxRedirects             = 5
	defaultRequestsPerSecond = 4
	userAgent                = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

type ClientOptions struct {
	// RequestsPerSecond limits upstream calls, zero means the default of 4.
	RequestsPerSecond float64
	CloudflareBypass  bool
	// DumpOutput receives raw request/response pairs when set.
	DumpOutput restyutil.InstrumentOutput
}

type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

func NewClient(opts ClientOptions) *Client {
	client := resty.New()
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	restyutil.InstrumentClient(client, tracer, opts.DumpOutput)

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	return &Client{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// BaseUrlFromLink turns whatever link the user pasted (usually the login page
// itself) into the directory the portal's endpoints are relative to.
func BaseUrlFromLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", fmt.Errorf("%w: empty portal link", ErrMissingCredentials)
	}
	normalized, err := purell.NormalizeURLString(link, purell.FlagsSafe|purell.FlagRemoveDotSegments|purell.FlagRemoveFragment)
	if err != nil {
		return "", fmt.Errorf("normalize portal link: %w", err)
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("parse portal link: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("portal link %q is not absolute", link)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""

	path := parsed.Path
	last := path[strings.LastIndex(path, "/")+1:]
	if strings.HasSuffix(last, ".w") || strings.HasSuffix(last, ".p") {
		path = path[:len(path)-len(last)]
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	parsed.Path = path
	return parsed.String(), nil
}

func resolve(baseUrl string, endpoint Endpoint) string {
	return strings.TrimRight(baseUrl, "/") + "/" + endpoint.Path
}

var expiryMarkers = []string{
	"session has expired",
	"session has timed out",
	"webspeed error",
}

// IsSessionExpired reports whether a response body carries one of the
// portal's expiry markers. The portal reports expiry inside ordinary 200
// pages so the status code is never consulted.
func IsSessionExpired(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range expiryMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Post sends a form-encoded POST to the endpoint and returns the raw body.
func (c *Client) Post(ctx context.Context, baseUrl string, endpoint Endpoint, form url.Values, headers map[string]string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:Post")
	defer span.End()
	span.SetAttributes(attribute.String("endpoint", endpoint.Name))

	ctx, cancel := context.WithTimeout(ctx, endpoint.Timeout)
	defer cancel()

	err := c.limiter.Wait(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter wait failed")
		return "", &TransportError{Endpoint: endpoint.Name, Err: err}
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetFormDataFromValues(form).
		Post(resolve(baseUrl, endpoint))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", &TransportError{Endpoint: endpoint.Name, Err: err}
	}

	body := string(res.Body())
	if IsSessionExpired(body) {
		span.SetStatus(codes.Error, "session expired")
		slog.DebugContext(ctx, "session expiry marker found", "endpoint", endpoint.Name, "status", res.StatusCode())
		return "", ErrSessionExpired
	}
	if !res.IsSuccess() {
		terr := &TransportError{
			Endpoint: endpoint.Name,
			Status:   res.StatusCode(),
			Message:  errorMessage(res.Header().Get("content-type"), res.Body()),
		}
		span.RecordError(terr)
		span.SetStatus(codes.Error, "non-2xx response")
		return "", terr
	}
	return body, nil
}

// PostAuthenticated is Post with the session tokens embedded in the form.
func (c *Client) PostAuthenticated(ctx context.Context, tokens SessionTokens, endpoint Endpoint, form url.Values) (string, error) {
	if !tokens.Valid() {
		return "", ErrSessionExpired
	}
	return c.Post(ctx, tokens.BaseUrl, endpoint, tokens.form(form), nil)
}

const maxErrorMessageLength = 200

// errorMessage pulls a human readable message out of an error body, it
// returns an empty string when nothing usable is found.
func errorMessage(contentType string, body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	if strings.Contains(contentType, "json") || trimmed[0] == '{' {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(trimmed, &payload) == nil {
			if payload.Message != "" {
				return truncate(payload.Message)
			}
			if payload.Error != "" {
				return truncate(payload.Error)
			}
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return ""
	}
	if title := htmlutil.SelectionText(doc.Find("title")); title != "" {
		return truncate(title)
	}
	return truncate(htmlutil.SelectionText(doc.Find("body")))
}

func truncate(s string) string {
	if len(s) <= maxErrorMessageLength {
		return s
	}
	return s[:maxErrorMessageLength]
}
