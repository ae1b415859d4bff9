package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/goAccount/apperr"
)

// StatusFor maps an engine error onto an HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindProviderConflict:
		return http.StatusConflict
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error            string `json:"error"`
	ExistingProvider string `json:"existing_provider,omitempty"`
}

// WriteError writes err as a JSON body carrying its reason key.
func WriteError(w http.ResponseWriter, err error) {
	writeError(w, StatusFor(err), err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: apperr.KeyOf(err)}
	if ae, ok := apperr.As(err); ok {
		body.ExistingProvider = ae.ExistingProvider
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
