package shared

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestNewAPIError(t *testing.T) {
	err := NewAPIError("test_code", "test message")
	if err.Code != "test_code" {
		t.Errorf("expected code 'test_code', got '%s'", err.Code)
	}
	if err.Message != "test message" {
		t.Errorf("expected message 'test message', got '%s'", err.Message)
	}
	if err.Details != nil {
		t.Errorf("expected nil details, got %v", err.Details)
	}
	if err.Error() != "test message" {
		t.Errorf("expected Error() to return message, got %q", err.Error())
	}
}

func TestAPIError_WithDetails(t *testing.T) {
	err := NewAPIError("code", "message").WithDetails(map[string]string{"field": "value"})

	d, ok := err.Details.(map[string]string)
	if !ok {
		t.Fatal("expected details to be map[string]string")
	}
	if d["field"] != "value" {
		t.Errorf("expected field 'value', got '%s'", d["field"])
	}
}

func TestAPIError_JSONUsesMsgField(t *testing.T) {
	data, err := json.Marshal(NewAPIError("", "Client not connected to server"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"msg":"Client not connected to server"}` {
		t.Errorf("unexpected body %s", data)
	}
}

func TestHTTPHelpers(t *testing.T) {
	tests := []struct {
		name   string
		err    *echo.HTTPError
		status int
	}{
		{"bad request", BadRequest("code", "message"), http.StatusBadRequest},
		{"not found", NotFound("code", "message"), http.StatusNotFound},
		{"conflict", Conflict("code", "message"), http.StatusConflict},
		{"unavailable", ServiceUnavailable("code", "message"), http.StatusServiceUnavailable},
		{"internal", InternalError("code", "message"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, tt.err.Code)
			}
			msg, ok := tt.err.Message.(*APIError)
			if !ok {
				t.Fatal("expected message to be *APIError")
			}
			if msg.Message != "message" {
				t.Errorf("expected message 'message', got %q", msg.Message)
			}
		})
	}
}

func TestAPIError_RenderedByEcho(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return BadRequest("no_producer", "Error connecting to RaspPi: Socket connection not established")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["msg"] != "Error connecting to RaspPi: Socket connection not established" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
