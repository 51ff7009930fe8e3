package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"forwardgate/internal/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeError(t, rec).Code
}

func TestJSON_WritesStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusAccepted, APIResponse{Data: map[string]string{"a": "b"}})

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"data":{"a":"b"}}` {
		t.Errorf("body = %s", got)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"c": make(chan int)})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestError_AppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	err := types.NewAppErrorWithDetails(types.ErrCodeConsentRecipientUnavailable, "Recipient Unavailable", nil,
		map[string]any{"field": "recipient_address"})
	Error(rec, req, fmt.Errorf("setup: %w", err))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d", rec.Code)
	}
	got := decodeError(t, rec)
	if got.Code != "consent_recipient_unavailable" || got.Message != "Recipient Unavailable" {
		t.Errorf("error = %+v", got)
	}
	if got.Details["field"] != "recipient_address" || got.RequestID != "req-1" {
		t.Errorf("details/request id = %+v", got)
	}
}

func TestError_GenericErrorHidesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	got := decodeError(t, rec)
	if got.Code != "internal_unexpected_error" || strings.Contains(got.Message, "password") {
		t.Errorf("error = %+v", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"a"}`, false},
		{"empty", ``, true},
		{"syntax", `{"name":`, true},
		{"unknown field", `{"name":"a","x":1}`, true},
		{"wrong type", `{"name":1}`, true},
		{"two objects", `{"name":"a"}{"name":"b"}`, true},
		{"too large", `{"name":"` + strings.Repeat("a", maxRequestBodySize) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst payload
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			err := DecodeJSON(httptest.NewRecorder(), req, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !types.IsCode(err, types.ErrCodeValidationInvalidJSON) {
				t.Errorf("code = %v", err)
			}
		})
	}
}
