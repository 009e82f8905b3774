package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/oestradiol/Voyager-Backend/internal/apperr"
)

// logs is the envelope every response carries.
type logs struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

// writeJSON writes payload merged with a logs envelope.
func writeJSON(w http.ResponseWriter, status int, message string, payload map[string]any) {
	body := map[string]any{"logs": logs{Message: message, Errors: []string{}}}
	for k, v := range payload {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError sends one or more error messages under the status text.
func writeError(w http.ResponseWriter, status int, msgs ...string) {
	if msgs == nil {
		msgs = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"logs": logs{Message: http.StatusText(status), Errors: msgs},
	})
}

// writeAppError maps err through apperr and writes it.
func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, apperr.Status(err), apperr.Message(err))
}
