package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
)

// redactedFields are form fields whose values never reach a dump: the login
// password and the session tokens every authenticated request carries.
var redactedFields = map[string]bool{
	"password":  true,
	"dwd":       true,
	"wfaacl":    true,
	"encses":    true,
	"sessionid": true,
}

var redactedHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"Set-Cookie":    true,
}

const redacted = "<redacted>"

func formatHeaders(headers http.Header) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out strings.Builder
	for _, k := range keys {
		for _, v := range headers[k] {
			if redactedHeaders[http.CanonicalHeaderKey(k)] {
				v = redacted
			}
			fmt.Fprintf(&out, "%s: %s\n", k, v)
		}
	}
	return strings.TrimSuffix(out.String(), "\n")
}

// redactForm masks sensitive values of an urlencoded body, anything that does
// not parse as a form is returned unchanged.
func redactForm(body string) string {
	values, err := url.ParseQuery(body)
	if err != nil {
		return body
	}
	changed := false
	for k := range values {
		if redactedFields[strings.ToLower(k)] {
			for i := range values[k] {
				values[k][i] = redacted
			}
			changed = true
		}
	}
	if !changed {
		return body
	}
	return values.Encode()
}

func formatRequestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return "<no body>"
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("<unreadable body: %s>", err)
	}
	contents, err := io.ReadAll(body)
	if err != nil {
		return fmt.Sprintf("<unreadable body: %s>", err)
	}
	return redactForm(string(contents))
}

// dumpName is the file name stem of a dumped exchange, the message id
// followed by the last path segment of the url ("3-sfgradebook001.w").
func dumpName(messageId, rawUrl string) string {
	parsed, err := url.Parse(rawUrl)
	if err != nil || parsed.Path == "" {
		return messageId
	}
	segment := path.Base(parsed.Path)
	if segment == "/" || segment == "." {
		return messageId
	}
	return messageId + "-" + segment
}

func formatHttpMessage(res *resty.Response) string {
	var out strings.Builder

	out.WriteString("---- REQUEST ----\n\n")
	fmt.Fprintf(&out, "%s %s\n\n", res.Request.Method, res.Request.URL)
	if res.Request.RawRequest != nil {
		out.WriteString(formatHeaders(res.Request.RawRequest.Header))
		out.WriteString("\n\n")
	}
	out.WriteString(formatRequestBody(res.Request.RawRequest))

	responseUrl := res.Request.URL
	if res.RawResponse != nil {
		redirected, err := res.RawResponse.Location()
		if err == nil {
			responseUrl = redirected.String()
		}
	}
	out.WriteString("\n\n---- RESPONSE ----\n\n")
	fmt.Fprintf(&out, "%d %s\n\n", res.StatusCode(), responseUrl)
	out.WriteString(formatHeaders(res.Header()))
	out.WriteString("\n\n")
	out.WriteString(res.String())
	return out.String()
}
