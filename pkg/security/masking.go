package security

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	secretPattern = regexp.MustCompile(`(?i)(secret|token|signing[_-]?key|api[_-]?key|password)(["\s:=]+["']?)([a-zA-Z0-9_/+-]{8,})`)
	hookPathPart  = regexp.MustCompile(`^[A-Za-z0-9]{6,}$`)
)

// MaskSecret keeps the first four characters of a credential
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "***REDACTED***"
}

// MaskURL keeps scheme and host but hides the path tokens of webhook URLs
// such as https://hooks.slack.com/services/T000/B000/XXXX
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return MaskSecret(raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if hookPathPart.MatchString(p) && i > 0 {
			parts[i] = "***"
		}
	}
	masked := u.Scheme + "://" + u.Host
	if len(parts) > 0 && parts[0] != "" {
		masked += "/" + strings.Join(parts, "/")
	}
	return masked
}

// MaskString redacts key=value style credentials inside free text
func MaskString(s string) string {
	return secretPattern.ReplaceAllString(s, "$1$2***REDACTED***")
}
