package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"forwardgate/internal/types"
)

const maxRequestBodySize = 256 << 10

// APIResponse wraps successful payloads.
type APIResponse struct {
	Data any `json:"data"`
}

// APIErrorResponse wraps failures.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// JSON writes data with the given status. A marshalling failure becomes a
// 500 with a fixed body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "failed to marshal response",
			RequestID: types.GetRequestID(r.Context()),
		}})
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an APIErrorResponse. AppErrors keep their code,
// message and details; anything else is a 500 whose message is not exposed.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			logFromRequest(r).Error("request failed", "code", appErr.Code, "error", err)
		}
		JSON(w, r, status, APIErrorResponse{Error: ErrorDetail{
			Code:      string(appErr.Code),
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: requestID,
		}})
		return
	}

	logFromRequest(r).Error("unhandled error", "error", err)
	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{Error: ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   "an unexpected error occurred",
		RequestID: requestID,
	}})
}

// DecodeJSON reads a single JSON object into dst, rejecting unknown fields
// and bodies over maxRequestBodySize. Failures are validation_invalid_json.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON,
			"request body must contain a single JSON object", nil)
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var (
		maxBytesErr   *http.MaxBytesError
		syntaxErr     *json.SyntaxError
		typeErr       *json.UnmarshalTypeError
		invalidJSON   = types.ErrCodeValidationInvalidJSON
		unknownPrefix = "json: unknown field "
	)
	switch {
	case errors.As(err, &maxBytesErr):
		return types.NewAppError(invalidJSON, "request body too large", err)
	case errors.As(err, &syntaxErr):
		return types.NewAppError(invalidJSON, "malformed JSON in request body", err)
	case errors.As(err, &typeErr):
		return types.NewAppErrorWithDetails(invalidJSON, "invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	case strings.HasPrefix(err.Error(), unknownPrefix):
		return types.NewAppError(invalidJSON,
			"unknown field in request body: "+strings.TrimPrefix(err.Error(), unknownPrefix), err)
	case errors.Is(err, io.EOF):
		return types.NewAppError(invalidJSON, "request body must not be empty", err)
	default:
		return types.NewAppError(invalidJSON, "invalid JSON in request body", err)
	}
}
