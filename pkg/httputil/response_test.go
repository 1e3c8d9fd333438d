package httputil

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteJSON(rec, 200, map[string]string{"name": "TEACHER"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if rec.Code != 200 {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Invalid JSON body: %v", err)
	}
	if body["name"] != "TEACHER" {
		t.Errorf("Unexpected body: %v", body)
	}
}

func TestWriteErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		write  func(rec *httptest.ResponseRecorder)
		status int
	}{
		{"forbidden", func(rec *httptest.ResponseRecorder) { WriteForbidden(rec, "system role") }, 403},
		{"conflict", func(rec *httptest.ResponseRecorder) { WriteConflict(rec, "duplicate name") }, 409},
		{"not found", func(rec *httptest.ResponseRecorder) { WriteNotFoundError(rec, "no such role") }, 404},
		{"internal", func(rec *httptest.ResponseRecorder) { WriteInternalError(rec, errors.New("boom")) }, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "error") {
				t.Errorf("Expected error field in body: %s", rec.Body.String())
			}
		})
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x","bogus":1}`))
	if err := DecodeJSON(req, &dst); err == nil {
		t.Error("Expected unknown field error")
	}
}
