package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{InferenceURL: "http://localhost:9000"})
	if c.httpClient.Timeout != 10*time.Second {
		t.Errorf("expected default timeout 10s, got %v", c.httpClient.Timeout)
	}
	if c.baseURL != "http://localhost:9000" {
		t.Errorf("unexpected base URL %s", c.baseURL)
	}
}

func TestEncodeTensor(t *testing.T) {
	data, err := base64.StdEncoding.DecodeString(encodeTensor([]float32{1, 0.5}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0x3f}
	if string(data) != string(want) {
		t.Errorf("expected %x, got %x", want, data)
	}
}

func TestClient_Detect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/detect" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req detectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Shape) != 4 || req.Shape[1] != 2 || req.Shape[3] != 3 {
			t.Errorf("unexpected shape %v", req.Shape)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"boxes":[[0,0,1,1]],"scores":[0.8],"classes":[0],"valid_detections":1}`))
	}))
	defer server.Close()

	c := NewClient(Config{InferenceURL: server.URL})
	out, err := c.Detect(context.Background(), make([]float32, 2*2*3), 2)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if out.Valid != 1 || out.Classes[0] != 0 || out.Scores[0] != 0.8 {
		t.Errorf("unexpected detections %+v", out)
	}
}

func TestClient_DetectErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(Config{InferenceURL: server.URL})
	if _, err := c.Detect(context.Background(), make([]float32, 12), 2); err == nil {
		t.Error("expected error on 500")
	}
	if _, err := c.Detect(context.Background(), make([]float32, 5), 2); err == nil {
		t.Error("expected error on mismatched tensor length")
	}
}

func TestClient_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if !NewClient(Config{InferenceURL: server.URL}).IsAvailable(context.Background()) {
		t.Error("expected service to be available")
	}
	if NewClient(Config{InferenceURL: "http://127.0.0.1:1"}).IsAvailable(context.Background()) {
		t.Error("expected unreachable service to be unavailable")
	}
}
