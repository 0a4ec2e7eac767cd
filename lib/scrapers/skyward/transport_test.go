package skyward

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseUrlFromLink(t *testing.T) {
	cases := []struct {
		link     string
		expected string
	}{
		{"HTTPS://Portal.Example.com/scripts/seplog01.w", "https://portal.example.com/scripts/"},
		{"https://portal.example.com/scripts/seplog01.w?foo=bar#frag", "https://portal.example.com/scripts/"},
		{"https://portal.example.com/scripts", "https://portal.example.com/scripts/"},
		{"https://portal.example.com/scripts/", "https://portal.example.com/scripts/"},
	}
	for _, c := range cases {
		actual, err := BaseUrlFromLink(c.link)
		require.NoError(t, err, c.link)
		require.Equal(t, c.expected, actual, c.link)
	}

	_, err := BaseUrlFromLink("")
	require.ErrorIs(t, err, ErrMissingCredentials)
	_, err = BaseUrlFromLink("portal.example.com")
	require.Error(t, err)
}

func TestIsSessionExpired(t *testing.T) {
	require.True(t, IsSessionExpired("<p>Your session has expired.</p>"))
	require.True(t, IsSessionExpired("<p>Session has timed out</p>"))
	require.True(t, IsSessionExpired("<h1>WebSpeed error from messenger process</h1>"))
	require.False(t, IsSessionExpired("<p>Welcome</p>"))
}

func testTokens(baseUrl string) SessionTokens {
	return SessionTokens{
		Dwd:       "dwd",
		Wfaacl:    "wfaacl",
		Encses:    "encses",
		UserType:  "student",
		SessionId: "a\x15b",
		BaseUrl:   baseUrl,
	}
}

func TestPostAuthenticated(t *testing.T) {
	var received url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		received = r.PostForm
		fmt.Fprint(w, "<html>ok</html>")
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{RequestsPerSecond: 100})
	form := url.Values{}
	form.Set("action", "moreMessages")

	body, err := client.PostAuthenticated(context.Background(), testTokens(srv.URL+"/"), EndpointMoreMessages, form)
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", body)
	require.Equal(t, "dwd", received.Get("dwd"))
	require.Equal(t, "wfaacl", received.Get("wfaacl"))
	require.Equal(t, "encses", received.Get("encses"))
	require.Equal(t, "student", received.Get("User-Type"))
	require.Equal(t, "a\x15b", received.Get("sessionid"))
	require.Equal(t, "moreMessages", received.Get("action"))
}

func TestPostRejectsPartialTokens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	tokens := testTokens(srv.URL + "/")
	tokens.Encses = ""

	client := NewClient(ClientOptions{RequestsPerSecond: 100})
	_, err := client.PostAuthenticated(context.Background(), tokens, EndpointHome, nil)
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Zero(t, calls.Load())
}

func TestPostErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sfhome01.w":
			fmt.Fprint(w, "<html><body>Your session has expired</body></html>")
		case "/sfgradebook001.w":
			w.Header().Set("content-type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"message": "gradebook unavailable"}`)
		case "/sfacademichistory001.w":
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "<html><head><title>Down for maintenance</title></head></html>")
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{RequestsPerSecond: 100})
	tokens := testTokens(srv.URL + "/")
	ctx := context.Background()

	_, err := client.FetchHome(ctx, tokens)
	require.ErrorIs(t, err, ErrSessionExpired)

	_, err = client.FetchGradebook(ctx, tokens)
	require.ErrorIs(t, err, ErrTransport)
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, http.StatusInternalServerError, terr.Status)
	require.Equal(t, "gradebook unavailable", terr.Message)

	_, err = client.FetchHistory(ctx, tokens)
	require.True(t, errors.As(err, &terr))
	require.Equal(t, http.StatusServiceUnavailable, terr.Status)
	require.Equal(t, "Down for maintenance", terr.Message)

	_, err = client.FetchMoreMessages(ctx, tokens, "12")
	require.True(t, errors.As(err, &terr))
	require.Equal(t, http.StatusBadGateway, terr.Status)
	require.Empty(t, terr.Message)
}

func TestPostNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseUrl := srv.URL + "/"
	srv.Close()

	client := NewClient(ClientOptions{RequestsPerSecond: 100})
	_, err := client.FetchHome(context.Background(), testTokens(baseUrl))
	require.ErrorIs(t, err, ErrTransport)
	require.NotErrorIs(t, err, ErrSessionExpired)
}
