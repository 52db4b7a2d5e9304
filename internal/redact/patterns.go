package redact

import "regexp"

// Pattern names one class of credential and how to find it.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// DefaultPatterns returns the credential shapes scrubbed from upstream text.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "bearer_token",
			Regex: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{8,}=*`),
		},
		{
			Name:  "openai_key",
			Regex: regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`),
		},
		{
			Name:  "aws_access_key",
			Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		},
		{
			Name:  "github_token",
			Regex: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),
		},
		{
			Name:  "private_key",
			Regex: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-----`),
		},
		{
			Name:  "connection_string",
			Regex: regexp.MustCompile(`(?:postgres|mysql|mongodb|redis)://[^\s"']+`),
		},
		{
			Name:  "jwt",
			Regex: regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
		},
	}
}
