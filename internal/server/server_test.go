package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend-fleettrack/internal/config"
)

func TestHealthRoute(t *testing.T) {
	s := NewServer(config.Config{JWTSecret: "secret", ServerPort: ":0"}, nil, nil, nil)
	defer s.Stream.Close()

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["active_sessions"] != float64(0) || body["connections"] != float64(0) {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := NewServer(config.Config{JWTSecret: "secret", ServerPort: ":0"}, nil, nil, nil)
	defer s.Stream.Close()

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/tracking/sessions"},
		{http.MethodPost, "/tracking/sessions/s1/positions"},
		{http.MethodGet, "/fleet/vehicles/V"},
		{http.MethodDelete, "/fleet/vehicles/V/profile"},
		{http.MethodGet, "/stream/ws"},
	} {
		resp, err := s.App.Test(httptest.NewRequest(tc.method, tc.path, nil))
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestActiveSessionsPublic(t *testing.T) {
	s := NewServer(config.Config{JWTSecret: "secret", ServerPort: ":0"}, nil, nil, nil)
	defer s.Stream.Close()

	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/tracking/sessions/active", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for active sessions")
	}
}
