package redact

import (
	"regexp"
	"strings"
)

// Redactor masks credentials in text that leaves the process, such as upstream
// error bodies that end up in logs and stream error chunks.
type Redactor struct {
	patterns []Pattern
	literals []string
}

// New builds a redactor with the default patterns. Each non-empty literal is
// masked wherever it appears verbatim; pass the configured upstream key here
// so an upstream echoing it back cannot leak it.
func New(literals ...string) *Redactor {
	r := &Redactor{patterns: DefaultPatterns()}
	for _, l := range literals {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		r.literals = append(r.literals, l)
		if tok, ok := cutBearer(l); ok && tok != "" {
			r.literals = append(r.literals, tok)
		}
	}
	return r
}

// Redact returns text with every match replaced by a [REDACTED:<name>] marker.
// A nil Redactor returns text unchanged.
func (r *Redactor) Redact(text string) string {
	if r == nil || text == "" {
		return text
	}
	for _, l := range r.literals {
		text = strings.ReplaceAll(text, l, "[REDACTED:api_key]")
	}
	for _, p := range r.patterns {
		text = p.Regex.ReplaceAllLiteralString(text, "[REDACTED:"+p.Name+"]")
	}
	return text
}

// Detect reports the names of the patterns that match text, in pattern order.
func (r *Redactor) Detect(text string) []string {
	if r == nil {
		return nil
	}
	var names []string
	for _, l := range r.literals {
		if strings.Contains(text, l) {
			names = append(names, "api_key")
			break
		}
	}
	for _, p := range r.patterns {
		if p.Regex.MatchString(text) {
			names = append(names, p.Name)
		}
	}
	return names
}

var bearerPrefix = regexp.MustCompile(`(?i)^bearer\s+`)

func cutBearer(s string) (string, bool) {
	loc := bearerPrefix.FindStringIndex(s)
	if loc == nil {
		return "", false
	}
	return s[loc[1]:], true
}
