package plex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tiercache/internal/config"
)

func TestSessionGuard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Plex-Token") != "admin" {
			t.Errorf("missing token")
		}
		_, _ = w.Write([]byte(`<MediaContainer><Video><Media><Part file="/data/movies/Playing.mkv"/></Media></Video></MediaContainer>`))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Plex.URL = server.URL
	cfg.Plex.Token = "admin"
	guard := NewSessionGuard(&cfg, server.Client())

	tests := []struct {
		path string
		want bool
	}{
		{"/data/movies/Playing.mkv", true},
		{"/data/movies/./Playing.mkv", true},
		{"/data/movies/Idle.mkv", false},
	}
	for _, tt := range tests {
		got, err := guard.Active(context.Background(), tt.path)
		if err != nil {
			t.Fatalf("Active(%s): %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("Active(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSessionGuardUnreachableIsActive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Plex.URL = server.URL
	guard := NewSessionGuard(&cfg, server.Client())
	active, err := guard.Active(context.Background(), "/data/x.mkv")
	if err == nil || !active {
		t.Fatalf("active=%v err=%v, want active with error", active, err)
	}
}
