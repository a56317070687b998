package log

import "net/url"

// RedactURL keeps only scheme and host. Webhook tokens, private calendar
// links and credentials live in the userinfo, path or query.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
