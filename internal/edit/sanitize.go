package edit

import "regexp"

// Replacement content is persisted and later rendered by arbitrary UI
// layers, so script-injection vectors are stripped before storage.
var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	scriptTagRe   = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	eventAttrRe   = regexp.MustCompile(`(?i)\son\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	jsSchemeRe    = regexp.MustCompile(`(?i)javascript\s*:`)
)

// Sanitize removes <script> blocks, orphaned script tags, inline event
// handler attributes and javascript: URLs from content.
func Sanitize(s string) string {
	s = scriptBlockRe.ReplaceAllString(s, "")
	s = scriptTagRe.ReplaceAllString(s, "")
	s = eventAttrRe.ReplaceAllString(s, "")
	s = jsSchemeRe.ReplaceAllString(s, "")
	return s
}
