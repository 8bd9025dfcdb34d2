// Package render substitutes {{identifier}} tokens in a template's
// subject and body against a recipient's variables. It is pure,
// deterministic, side-effect free, and safe for concurrent use: the same
// input always produces the same output, in-process or across processes.
package render

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

const unsubscribeMarker = "[UNSUBSCRIBE]"

// Recipient carries the values a render pass resolves tokens against.
type Recipient struct {
	Email     string
	FirstName string
	LastName  string
	Vars      map[string]string
}

func (r Recipient) fullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// Options configures values that don't come from the recipient row.
type Options struct {
	// UnsubscribeHost is the host used to build unsubscribe_url.
	UnsubscribeHost string
}

// Result is a rendered subject+body pair.
type Result struct {
	Subject string
	Body    string
}

// Render substitutes tokens in subject and body, then wraps body in a
// responsive HTML shell if it is not already a full HTML document.
func Render(subject, body string, recipient Recipient, opts Options) Result {
	unsubscribeURL := buildUnsubscribeURL(opts.UnsubscribeHost, recipient.Email)
	lookup := tokenLookup(recipient, unsubscribeURL)

	renderedSubject := substitute(subject, lookup)
	renderedBody := substitute(body, lookup)
	renderedBody = applyUnsubscribeMarker(renderedBody, unsubscribeURL)
	renderedBody = wrapIfNeeded(renderedBody, unsubscribeURL)

	return Result{Subject: renderedSubject, Body: renderedBody}
}

// ExtractVariables returns the deduplicated {{identifier}} tokens
// referenced anywhere in the given text, in order of first appearance.
func ExtractVariables(texts ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, text := range texts {
		for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
			name := m[1]
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out
}

func tokenLookup(r Recipient, unsubscribeURL string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		if r.Vars != nil {
			if v, ok := r.Vars[name]; ok {
				return v, true
			}
		}
		switch name {
		case "email":
			return r.Email, true
		case "firstName":
			return r.FirstName, true
		case "lastName":
			return r.LastName, true
		case "fullName":
			return r.fullName(), true
		case "unsubscribe_url":
			return unsubscribeURL, true
		}
		return "", false
	}
}

func substitute(text string, lookup func(string) (string, bool)) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		if value, ok := lookup(name); ok {
			return value
		}
		return ""
	})
}

func buildUnsubscribeURL(host, email string) string {
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("https://%s/unsubscribe?email=%s", host, url.QueryEscape(email))
}

func applyUnsubscribeMarker(body, unsubscribeURL string) string {
	if !strings.Contains(body, unsubscribeMarker) {
		return body
	}
	anchor := fmt.Sprintf(`<a href="%s">Unsubscribe</a>`, unsubscribeURL)
	return strings.ReplaceAll(body, unsubscribeMarker, anchor)
}

func wrapIfNeeded(body, unsubscribeURL string) string {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) >= 5 && strings.EqualFold(trimmed[:5], "<html") {
		return body
	}
	return shell(body, unsubscribeURL)
}

func shell(inner, unsubscribeURL string) string {
	return `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="margin:0;padding:0;background-color:#f4f4f5;">
<div style="max-width:600px;margin:0 auto;padding:24px;background-color:#ffffff;font-family:Arial,sans-serif;">
` + inner + `
</div>
<div style="max-width:600px;margin:0 auto;padding:16px;text-align:center;color:#9ca3af;font-size:12px;">
You are receiving this because you're on a mailing list. <a href="` + unsubscribeURL + `">Unsubscribe</a>
</div>
</body>
</html>`
}
