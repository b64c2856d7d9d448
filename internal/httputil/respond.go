package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	apperrors "whatslens/internal/errors"
	"whatslens/internal/models"
)

// WriteJSON writes payload wrapped in the standard success envelope.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, status, models.APIResponse{Success: true, Data: data})
}

// WritePaginated writes a success envelope carrying page metadata.
func WritePaginated(w http.ResponseWriter, status int, data interface{}, p *models.Pagination) {
	writeEnvelope(w, status, models.APIResponse{Success: true, Data: data, Pagination: p})
}

// WriteError maps err onto the error taxonomy and writes the failure
// envelope. Sensitive context keys are filtered before they reach the wire.
func WriteError(w http.ResponseWriter, err error, requestID string) {
	status := apperrors.HTTPStatusCode(err)
	resp := apperrors.ToHTTPResponse(err, requestID)
	writeEnvelope(w, status, models.APIResponse{
		Success: false,
		Error: &models.APIError{
			Code:    string(resp.Error.Code),
			Message: resp.Error.Message,
			Context: resp.Error.Context,
		},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, body models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Error("Failed to encode response body")
	}
}

// DecodeJSON reads a JSON request body into dst with a hard size limit.
// Decode failures surface as validation errors so handlers can pass them
// straight to WriteError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if _, ok := err.(*http.MaxBytesError); ok {
			return apperrors.NewValidationError("body", "request body too large")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid JSON body")
	}
	return nil
}
