package api

import (
	"errors"
	"net/http"
	"strings"
	"unsafe"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerTokenFromRequest prefers the Authorization header and falls back to
// the token query parameter.
func bearerTokenFromRequest(r *http.Request) ([]byte, error) {
	if values := r.Header.Values(echo.HeaderAuthorization); len(values) > 0 {
		return bearerTokenFromString(values[0])
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return checkTokenShape(readOnlyBytes(token))
	}
	return nil, errMissingAuthorization
}

func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return nil, errBadAuthorization
	}
	return checkTokenShape(readOnlyBytes(trimmed[len(bearerPrefix):]))
}

// checkTokenShape rejects anything that is not three dot separated parts
// before the token reaches the JWT parser.
func checkTokenShape(token []byte) ([]byte, error) {
	dots := 0
	for _, b := range token {
		if b == '.' {
			dots++
		}
	}
	if dots != 2 {
		return nil, errBadAuthorization
	}
	return token, nil
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
