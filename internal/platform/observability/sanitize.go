package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rune limits for request values copied into log entries.
const (
	routeLimit   = 180
	methodLimit  = 10
	idLimit      = 64
	defaultLimit = 256
)

// piiFields are event field names carrying patient contact data. Their
// values are masked before they reach the log sink.
var piiFields = map[string]func(string) string{
	"email":   MaskEmail,
	"to":      MaskEmail,
	"phone":   maskTail,
	"patient": maskTail,
	"name":    maskTail,
}

func clip(value string, limit int) string {
	if limit <= 0 {
		limit = defaultLimit
	}
	n := 0
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || n >= limit {
			return -1
		}
		n++
		return r
	}, value)
}

// SanitizeRoute cleans a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(route, routeLimit)
}

// SanitizeMethod cleans an HTTP method for logging.
func SanitizeMethod(method string) string {
	return clip(method, methodLimit)
}

// SanitizeSessionID bounds quote session identifiers in log output.
func SanitizeSessionID(id string) string {
	return clip(id, idLimit)
}

// MaskEmail keeps the first rune of the local part and the domain:
// "ana@example.com" becomes "a***@example.com".
func MaskEmail(addr string) string {
	addr = clip(strings.TrimSpace(addr), defaultLimit)
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return maskTail(addr)
	}
	first, _ := utf8.DecodeRuneInString(addr)
	return string(first) + "***" + addr[at:]
}

// maskTail keeps the last two runes.
func maskTail(value string) string {
	runes := []rune(clip(strings.TrimSpace(value), defaultLimit))
	if len(runes) <= 2 {
		return "***"
	}
	return "***" + string(runes[len(runes)-2:])
}

func redactField(key string, value any) any {
	mask, ok := piiFields[key]
	if !ok {
		return value
	}
	s, ok := value.(string)
	if !ok || s == "" {
		return value
	}
	return mask(s)
}
