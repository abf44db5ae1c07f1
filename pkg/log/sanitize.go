package log

import (
	"net/url"
	"strings"
)

// sensitiveKeys are matched against the lowercased field key.
var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key",
	"token", "secret", "authorization", "cookie",
	"credential", "private_key", "privatekey",
}

// SanitizeField masks the value of a sensitive field. Values logged under
// other keys only lose credentials embedded in a DSN or URL.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)
	for _, keyword := range sensitiveKeys {
		if strings.Contains(lowerKey, keyword) {
			return maskToken(value)
		}
	}

	if strings.Contains(lowerKey, "dsn") {
		return redactDSN(value)
	}
	if strings.Contains(value, "://") {
		return redactURL(value)
	}
	return value
}

// maskToken keeps the first and last four characters of long values and
// the first and last character of short ones.
func maskToken(value string) string {
	switch n := len(value); {
	case n <= 2:
		return strings.Repeat("*", n)
	case n <= 8:
		return value[:1] + strings.Repeat("*", n-2) + value[n-1:]
	default:
		return value[:4] + strings.Repeat("*", n-8) + value[n-4:]
	}
}

// redactDSN masks the password of a user:password@tcp(host)/db DSN.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	colon := strings.Index(dsn[:at], ":")
	if colon < 0 {
		return dsn
	}
	return dsn[:colon+1] + "****" + dsn[at:]
}

// redactURL hides the password of a URL's userinfo, e.g. an egress proxy.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
