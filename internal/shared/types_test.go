package shared

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("conn_")
	if !strings.HasPrefix(id, "conn_") {
		t.Errorf("expected prefix 'conn_', got %s", id)
	}
	if len(id) != len("conn_")+32 {
		t.Errorf("expected 32 hex chars after prefix, got %d", len(id)-len("conn_"))
	}
	if strings.Contains(id, "-") {
		t.Errorf("expected no dashes, got %s", id)
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID("")
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestStatusCode_OK(t *testing.T) {
	if !StatusOK.OK() {
		t.Error("200 should be OK")
	}
	if StatusError.OK() {
		t.Error("500 should not be OK")
	}
	if StatusCode(404).OK() {
		t.Error("404 should not be OK")
	}
}
