package httpx

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/oestradiol/Voyager-Backend/internal/apperr"
)

const apiKeyHeader = "X-API-Key"

var errUnauthorized = apperr.New(apperr.KindUnauthorized, "invalid or missing API key")

// requireAPIKey rejects requests whose X-API-Key does not match the configured key.
func (r *Router) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.validAPIKey(strings.TrimSpace(req.Header.Get(apiKeyHeader))) {
			r.logger.Warn("api key rejected", "path", req.URL.Path, "ip", r.clientIP(req))
			writeAppError(w, errUnauthorized)
			return
		}
		next(w, req)
	}
}

func (r *Router) validAPIKey(key string) bool {
	if r.apiKey == "" || key == "" {
		return false
	}
	return len(key) == len(r.apiKey) && subtle.ConstantTimeCompare([]byte(key), []byte(r.apiKey)) == 1
}
