package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy strips every element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// PlainText turns a study field that may carry inline markup (abstracts often contain
// <i>, <sup> or <jats:p>) into plain text with single spaces. Entities are decoded so the
// prompt sees "<" rather than "&lt;".
func PlainText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if strings.ContainsAny(s, "<&") {
		s = html.UnescapeString(StrictHTMLPolicy().Sanitize(s))
	}
	return strings.Join(strings.Fields(s), " ")
}
