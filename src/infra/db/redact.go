package db

import (
	"net/url"
	"regexp"
)

// Credentials must never reach a log line or error string. Every message
// built from a connection string or driver error passes through one of
// these helpers first.

var (
	urlCredentialsPattern  = regexp.MustCompile(`://[^@/\s]+@`)
	passwordKeywordPattern = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
)

// redactURL returns the connection URL with the password component replaced,
// whether it rides in the userinfo section or as a query parameter (a form
// the driver also accepts). The username, host and database name stay
// visible; they are needed to make log lines actionable. Unparseable input
// falls back to pattern redaction.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		s := urlCredentialsPattern.ReplaceAllString(raw, "://***@")
		return passwordKeywordPattern.ReplaceAllString(s, "${1}***")
	}

	if u.User != nil {
		if _, has := u.User.Password(); has {
			// "xxxxx" survives URL re-encoding; "***" would become %2A%2A%2A
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}

	q := u.Query()
	changed := false
	for _, key := range []string{"password", "passfile"} {
		if q.Has(key) {
			q.Set(key, "xxxxx")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}

	return u.String()
}

// redactError returns the error text with credentials removed. Driver errors
// can echo the connection string (e.g. on DNS failures), so the raw text is
// never safe to log directly.
func redactError(err error) string {
	if err == nil {
		return ""
	}
	s := urlCredentialsPattern.ReplaceAllString(err.Error(), "://***@")
	return passwordKeywordPattern.ReplaceAllString(s, "${1}***")
}
