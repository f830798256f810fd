package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/store"
)

const maxBodyBytes = 4 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error    string   `json:"error"`
	Path     string   `json:"path,omitempty"`
	Codes    []string `json:"codes,omitempty"`
	Blocking []string `json:"blocking,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeErrorMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var pre *model.ApprovalPreconditionError
	var format *model.FormatError
	var unavailable *model.CollaboratorUnavailableError
	var malformed *model.MalformedResponseError

	switch {
	case errors.As(err, &pre):
		body.Blocking = pre.Blocking
		return http.StatusConflict, body
	case errors.As(err, &format):
		body.Path, body.Codes = format.Path, format.Codes
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, model.ErrRunNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, model.ErrUnknownField),
		errors.Is(err, model.ErrNoSuggestion),
		errors.Is(err, model.ErrNoConflict),
		errors.Is(err, store.ErrInvalidRunID):
		return http.StatusBadRequest, body
	case errors.Is(err, model.ErrNotApproved),
		errors.Is(err, model.ErrStaleApproval),
		errors.Is(err, model.ErrNotFilled):
		return http.StatusConflict, body
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, body
	case errors.As(err, &malformed):
		return http.StatusBadGateway, body
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, body
	}
	return http.StatusInternalServerError, body
}

func writeError(w http.ResponseWriter, err error) {
	code, body := statusFor(err)
	if code >= http.StatusInternalServerError {
		zap.L().Warn("api: request failed", zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, body)
}

// decode reads a required JSON body. It writes a 400 and returns false when
// the body is missing or malformed.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
