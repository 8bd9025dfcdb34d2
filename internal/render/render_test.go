package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutesRecipientVarsThenBuiltins(t *testing.T) {
	recipient := Recipient{
		Email:     "jane@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
		Vars:      map[string]string{"company": "Acme"},
	}
	result := Render("Hi {{firstName}} from {{company}}", "Hello {{fullName}} <{{email}}>", recipient, Options{UnsubscribeHost: "mail.example.com"})

	require.Equal(t, "Hi Jane from Acme", result.Subject)
	require.Contains(t, result.Body, "Hello Jane Doe <jane@example.com>")
}

func TestRenderUnresolvedTokenBecomesEmptyString(t *testing.T) {
	result := Render("{{missingToken}}", "body", Recipient{Email: "a@b.com"}, Options{})
	require.Equal(t, "", result.Subject)
}

func TestRenderUnsubscribeMarkerBecomesAnchor(t *testing.T) {
	result := Render("subject", "click [UNSUBSCRIBE] to leave", Recipient{Email: "a@b.com"}, Options{UnsubscribeHost: "mail.example.com"})
	require.Contains(t, result.Body, `href="https://mail.example.com/unsubscribe?email=a%40b.com"`)
	require.NotContains(t, result.Body, "[UNSUBSCRIBE]")
}

func TestRenderWrapsNonHTMLBodyInShell(t *testing.T) {
	result := Render("s", "plain text body", Recipient{Email: "a@b.com"}, Options{})
	require.True(t, strings.HasPrefix(strings.TrimSpace(result.Body), "<!DOCTYPE html>"))
	require.Contains(t, result.Body, "plain text body")
}

func TestRenderShellFallbackAlwaysIncludesUnsubscribeLink(t *testing.T) {
	result := Render("s", "plain text body", Recipient{Email: "a@b.com"}, Options{UnsubscribeHost: "mail.example.com"})
	require.Contains(t, result.Body, `href="https://mail.example.com/unsubscribe?email=a%40b.com"`)
	require.Contains(t, result.Body, "Unsubscribe</a>")
}

func TestRenderLeavesFullHTMLDocumentUnwrapped(t *testing.T) {
	input := "<html><body>already a document</body></html>"
	result := Render("s", input, Recipient{Email: "a@b.com"}, Options{})
	require.Equal(t, input, result.Body)
}

func TestRenderIsByteIdenticalAcrossInvocations(t *testing.T) {
	recipient := Recipient{Email: "a@b.com", FirstName: "A", LastName: "B"}
	first := Render("hi {{fullName}}", "body {{email}}", recipient, Options{UnsubscribeHost: "h"})
	second := Render("hi {{fullName}}", "body {{email}}", recipient, Options{UnsubscribeHost: "h"})
	require.Equal(t, first, second)
}

func TestExtractVariablesDedupesAndKeepsBuiltinsToo(t *testing.T) {
	vars := ExtractVariables("Hi {{firstName}}, {{company}}", "{{company}} again {{discountCode}}")
	require.Equal(t, []string{"firstName", "company", "discountCode"}, vars)
}
