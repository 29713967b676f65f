package auth

import (
	"net/http"
	"strings"
)

const (
	DefaultCookieName = "jwt"
	bearerPrefix      = "Bearer "
)

// Extractor достает токен из запроса: заголовок Authorization или cookie.
type Extractor struct {
	CookieName string
	// PreferCookie меняет порядок: сначала cookie, потом заголовок.
	PreferCookie bool
}

func NewExtractor(cookieName string, preferCookie bool) Extractor {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return Extractor{CookieName: cookieName, PreferCookie: preferCookie}
}

// Extract возвращает ("", false), если токена нет ни в одном источнике.
// Это не ошибка, а "credential не предъявлен".
func (e Extractor) Extract(r *http.Request) (string, bool) {
	sources := []func(*http.Request) string{e.fromHeader, e.fromCookie}
	if e.PreferCookie {
		sources[0], sources[1] = sources[1], sources[0]
	}
	for _, source := range sources {
		if token := source(r); token != "" {
			return token, true
		}
	}
	return "", false
}

func (e Extractor) fromHeader(r *http.Request) string {
	return BearerToken(r.Header.Get("Authorization"))
}

func (e Extractor) fromCookie(r *http.Request) string {
	name := e.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// BearerToken срезает префикс "Bearer " (если он есть) и пробелы по краям.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == strings.TrimSpace(bearerPrefix) {
		// net/http обрезает хвостовой пробел у "Bearer "
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
}
