package email

import "strings"

// RedactEmail keeps the first character of the local part and the domain:
// "bob@example.com" becomes "b***@example.com". Anything without an @ is
// masked entirely.
func RedactEmail(addr string) string {
	if addr == "" {
		return ""
	}
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}
