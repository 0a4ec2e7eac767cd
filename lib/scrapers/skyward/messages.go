package skyward

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"skyassist-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	administratorClassName = "Administrator"
	administratorSubject   = "Administrator Message"
)

// FetchHome returns the markup of the home page, which carries the first
// batch of messages.
func (c *Client) FetchHome(ctx context.Context, tokens SessionTokens) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchHome")
	defer span.End()

	body, err := c.PostAuthenticated(ctx, tokens, EndpointHome, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch home page")
		return "", err
	}
	return body, nil
}

// FetchMoreMessages returns the next batch of messages after lastId.
func (c *Client) FetchMoreMessages(ctx context.Context, tokens SessionTokens, lastId string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchMoreMessages")
	defer span.End()
	span.SetAttributes(attribute.String("last_message_row_id", lastId))

	form := url.Values{}
	form.Set("action", "moreMessages")
	form.Set("lastMessageRowId", lastId)
	form.Set("ishttp", "true")

	body, err := c.PostAuthenticated(ctx, tokens, EndpointMoreMessages, form)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch more messages")
		return "", err
	}
	return body, nil
}

// LastMessageRowId returns the row id of the last removable message in the
// markup, the cursor the "load more" endpoint pages by.
func LastMessageRowId(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(
		doc.Find("li.feedItem.allowRemove").Last().
			Find("[data-message-row-id]").First().
			AttrOr("data-message-row-id", ""),
	)
}

var appendCall = regexp.MustCompile(`\$\(\s*['"]#([\w\-]+)['"]\s*\)\.append\(\s*(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")\s*\)`)

// messageFragments maps a body span id to its markup fragments in the order
// they appear in the page's scripts.
func messageFragments(doc *goquery.Document) map[string][]string {
	fragments := map[string][]string{}
	doc.Find("script").Each(func(_ int, script *goquery.Selection) {
		for _, match := range appendCall.FindAllStringSubmatch(script.Text(), -1) {
			literal := match[2]
			if literal == "" {
				literal = match[3]
			}
			fragments[match[1]] = append(fragments[match[1]], unescapeScriptString(literal))
		}
	})
	return fragments
}

// unescapeScriptString resolves the backslash escapes of a quoted script
// string literal.
func unescapeScriptString(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			out.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case 'u':
			if i+4 < len(s) {
				if r, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					out.WriteRune(rune(r))
					i += 4
					continue
				}
			}
			out.WriteByte('u')
		case 'x':
			if i+2 < len(s) {
				if r, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					out.WriteRune(rune(r))
					i += 2
					continue
				}
			}
			out.WriteByte('x')
		default:
			out.WriteByte(s[i])
		}
	}
	return out.String()
}

var excessBlankLines = regexp.MustCompile(`\n{3,}`)
var trailingLineSpace = regexp.MustCompile(`[ \t]+\n`)

// MessageText renders message markup as plain text with markdown-like
// markers for links, bold text and list items.
func MessageText(fragment string) string {
	nodes, err := htmlutil.ParseFragment(fragment)
	if err != nil {
		return htmlutil.CleanText(fragment)
	}
	var out strings.Builder
	for _, n := range nodes {
		renderMessageNode(n, &out)
	}
	text := strings.ReplaceAll(out.String(), "\u00a0", " ")
	text = trailingLineSpace.ReplaceAllString(text, "\n")
	text = excessBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

var inlineWhitespace = regexp.MustCompile(`[ \t\r\n\f]+`)

func renderChildren(n *html.Node) string {
	var out strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderMessageNode(child, &out)
	}
	return out.String()
}

func renderMessageNode(n *html.Node, out *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		out.WriteString(inlineWhitespace.ReplaceAllString(n.Data, " "))
		return
	case html.ElementNode:
	default:
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			renderMessageNode(child, out)
		}
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style:
	case atom.Br:
		out.WriteByte('\n')
	case atom.A:
		text := strings.TrimSpace(renderChildren(n))
		href := ""
		for _, attr := range n.Attr {
			if attr.Key == "href" {
				href = strings.TrimSpace(attr.Val)
			}
		}
		if href == "" {
			out.WriteString(text)
			return
		}
		if text == "" {
			text = href
		}
		out.WriteString("[" + text + "](" + href + ")")
	case atom.B, atom.Strong:
		text := strings.TrimSpace(renderChildren(n))
		if text != "" {
			out.WriteString("**" + text + "**")
		}
	case atom.Li:
		out.WriteString("\t• " + strings.TrimSpace(renderChildren(n)) + "\n")
	case atom.Div, atom.P:
		inner := renderChildren(n)
		if strings.TrimSpace(inner) == "" {
			out.WriteByte('\n')
			return
		}
		out.WriteString(strings.TrimLeft(inner, " "))
		if !strings.HasSuffix(inner, "\n") {
			out.WriteByte('\n')
		}
	default:
		out.WriteString(renderChildren(n))
	}
}

// ParseMessages parses the home page markup, optionally followed by any
// number of concatenated "load more" batches.
func ParseMessages(ctx context.Context, markup string) ([]Message, error) {
	_, span := tracer.Start(ctx, "ParseMessages")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, parseError("messages", "read markup: %v", err)
	}

	fragments := messageFragments(doc)

	var messages []Message
	seen := map[string]bool{}
	doc.Find("li.feedItem").Each(func(_ int, item *goquery.Selection) {
		if item.ParentsFiltered("li.feedItem").Length() > 0 {
			return
		}
		msg, ok := parseMessageItem(item, fragments)
		if !ok {
			return
		}
		if msg.MessageRowId != "" {
			if seen[msg.MessageRowId] {
				return
			}
			seen[msg.MessageRowId] = true
		}
		messages = append(messages, msg)
	})

	span.SetAttributes(attribute.Int("message_count", len(messages)))
	return messages, nil
}

func parseMessageItem(item *goquery.Selection, fragments map[string][]string) (Message, bool) {
	wrapper := item.Find("[data-message-row-id]").First()
	if wrapper.Length() == 0 {
		return Message{}, false
	}

	msg := Message{
		MessageRowId: strings.TrimSpace(wrapper.AttrOr("data-message-row-id", "")),
		ClassName:    htmlutil.CleanText(wrapper.AttrOr("data-class-name", "")),
		Date:         htmlutil.SelectionText(item.Find(".messageDate").First()),
	}
	admin := msg.ClassName == ""
	if admin {
		msg.ClassName = administratorClassName
	}

	if !admin {
		from := htmlutil.SelectionText(item.Find(".messageFrom").First())
		if from != "" {
			msg.From = &from
		}
	}

	switch subject := htmlutil.SelectionText(item.Find(".messageSubject").First()); {
	case subject != "":
		msg.Subject = subject
	case admin:
		msg.Subject = administratorSubject
	default:
		msg.Subject = htmlutil.SelectionText(item.Find(".messageHeader").First())
	}

	body := item.Find(".messageBody span[id]").First()
	if id, ok := body.Attr("id"); ok && len(fragments[id]) > 0 {
		msg.Content = MessageText(strings.Join(fragments[id], ""))
	} else {
		inner, _ := item.Find(".messageBody").First().Html()
		msg.Content = MessageText(inner)
	}
	return msg, true
}
