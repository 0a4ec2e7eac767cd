package htmlutil

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var whitespace = regexp.MustCompile(`\s+`)

// CleanText replaces non-breaking spaces, collapses runs of whitespace and
// trims the result. Every value pulled out of an upstream cell goes through
// this before being interpreted.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SelectionText is CleanText over the text of a selection.
func SelectionText(sel *goquery.Selection) string {
	return CleanText(sel.Text())
}

var intRegex = regexp.MustCompile(`-?\d+`)
var floatRegex = regexp.MustCompile(`-?\d+(\.\d+)?`)

// ExtractInt returns the first integer in the cleaned text. Cells routinely
// carry trailing annotations so the value is matched rather than cast.
func ExtractInt(s string) (int, bool) {
	match := intRegex.FindString(CleanText(s))
	if match == "" {
		return 0, false
	}
	value, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ExtractFloat returns the first integer or decimal number in the cleaned text.
func ExtractFloat(s string) (float64, bool) {
	match := floatRegex.FindString(CleanText(s))
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// FragmentText parses a markup fragment and returns its cleaned text.
func FragmentText(fragment string) string {
	nodes, err := ParseFragment(fragment)
	if err != nil {
		return CleanText(fragment)
	}
	var out strings.Builder
	for _, n := range nodes {
		out.WriteString(GetText(n))
		out.WriteByte(' ')
	}
	return CleanText(out.String())
}

// HasAnchor reports whether a markup fragment contains an <a> element.
func HasAnchor(fragment string) bool {
	nodes, err := ParseFragment(fragment)
	if err != nil {
		return strings.Contains(strings.ToLower(fragment), "<a")
	}
	for _, n := range nodes {
		if containsAtom(n, atom.A) {
			return true
		}
	}
	return false
}

func containsAtom(node *html.Node, a atom.Atom) bool {
	if node.Type == html.ElementNode && node.DataAtom == a {
		return true
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if containsAtom(child, a) {
			return true
		}
	}
	return false
}

// ParseFragment parses markup in the context of a <body> element.
func ParseFragment(fragment string) ([]*html.Node, error) {
	return html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
}

// FragmentDocument wraps a markup fragment in a goquery document.
func FragmentDocument(fragment string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(
		"<html><body>" + fragment + "</body></html>",
	))
}
