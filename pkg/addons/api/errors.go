package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-addons/pkg/addons"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind addons.Kind) int {
	switch kind {
	case addons.KindValidation:
		return http.StatusBadRequest
	case addons.KindPermission:
		return http.StatusForbidden
	case addons.KindNotFound:
		return http.StatusNotFound
	case addons.KindConsistency:
		return http.StatusConflict
	case addons.KindPartialFailure:
		return http.StatusMultiStatus
	}
	return http.StatusInternalServerError
}

// writeError renders err. Only the user-facing message of an *addons.Error
// leaves the server; anything else becomes a generic failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := addons.KindOf(err)
	status := statusFor(kind)

	resp := ErrorResponse{Error: "internal server error"}
	var e *addons.Error
	if errors.As(err, &e) {
		resp = ErrorResponse{Error: e.Message, Kind: kind.String()}
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: message, Kind: addons.KindValidation.String()})
}
