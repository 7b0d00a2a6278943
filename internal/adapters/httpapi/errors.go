package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Code  string `json:"code,omitempty"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// statusFor maps a rule error kind to an HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindGuard:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNoPayout:
		return http.StatusUnprocessableEntity
	case domain.KindTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{
		Code:  domain.CodeOf(err),
		Kind:  domain.KindOf(err).String(),
		Error: err.Error(),
	})
}

// decodeError turns an error body back into the matching sentinel so callers
// can use errors.Is and domain.KindOf on the far side of the wire.
func decodeError(op string, status int, body errorBody) error {
	if rule, ok := domain.RuleByCode(body.Code); ok {
		return fmt.Errorf("%s: %s: %w", op, body.Error, rule)
	}
	if status >= http.StatusInternalServerError {
		return domain.NewTransportError(op, fmt.Errorf("server error %d: %s", status, body.Error))
	}
	if body.Error == "" {
		return fmt.Errorf("%s: client error %d", op, status)
	}
	return fmt.Errorf("%s: client error %d: %w", op, status, errors.New(body.Error))
}
