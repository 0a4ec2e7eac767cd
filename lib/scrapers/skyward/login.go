package skyward

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"skyassist-backend/lib/htmlutil"

	"go.opentelemetry.io/otel/codes"
)

const minLoginTokens = 15

// sessionIdSeparator joins the two halves of the session id.
const sessionIdSeparator = "\x15"

var loginFailurePhrases = []string{
	"invalid username or password",
	"invalid login",
}

// Login exchanges credentials for a fresh set of session tokens.
func (c *Client) Login(ctx context.Context, creds Credentials) (SessionTokens, error) {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	if creds.Username == "" || creds.Password == "" {
		span.SetStatus(codes.Error, "missing credentials")
		return SessionTokens{}, ErrMissingCredentials
	}
	baseUrl, err := BaseUrlFromLink(creds.Link)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid portal link")
		return SessionTokens{}, err
	}

	form := url.Values{}
	form.Set("requestAction", "eel")
	form.Set("method", "extrainfo")
	form.Set("codeType", "tryLogin")
	form.Set("codeValue", creds.Username)
	form.Set("login", creds.Username)
	form.Set("password", creds.Password)

	body, err := c.Post(ctx, baseUrl, EndpointLogin, form, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return SessionTokens{}, err
	}

	tokens, err := ParseLoginResponse(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login rejected")
		slog.WarnContext(ctx, "login failed", "err", err)
		return SessionTokens{}, err
	}
	tokens.BaseUrl = baseUrl
	return tokens, nil
}

// ParseLoginResponse reads the caret delimited token string the login
// endpoint answers with. The string arrives wrapped in a list item.
func ParseLoginResponse(body string) (SessionTokens, error) {
	text := htmlutil.FragmentText(body)
	parts := strings.Split(text, "^")
	if len(parts) < minLoginTokens {
		return SessionTokens{}, classifyLoginFailure(body)
	}

	tokens := SessionTokens{
		Dwd:       strings.TrimSpace(parts[0]),
		Wfaacl:    strings.TrimSpace(parts[3]),
		Encses:    strings.TrimSpace(parts[14]),
		UserType:  strings.TrimSpace(parts[6]),
		SessionId: strings.TrimSpace(parts[1]) + sessionIdSeparator + strings.TrimSpace(parts[2]),
	}
	if strings.TrimSpace(parts[1]) == "" || strings.TrimSpace(parts[2]) == "" || !tokens.Valid() {
		return SessionTokens{}, fmt.Errorf("%w: login response is missing session tokens", ErrUnrecognizedResponse)
	}
	return tokens, nil
}

func classifyLoginFailure(body string) error {
	lower := strings.ToLower(htmlutil.CleanText(body))
	for _, phrase := range loginFailurePhrases {
		if strings.Contains(lower, phrase) {
			return ErrInvalidCredentials
		}
	}
	return fmt.Errorf("%w: login response has too few tokens", ErrUnrecognizedResponse)
}
