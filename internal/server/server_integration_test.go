package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ayusman/spellcast/internal/presentation"
	"github.com/ayusman/spellcast/internal/store"
)

func TestAPI_SpellWorkflow(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := store.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	reloads := 0
	srv := New(Config{
		Store:  s,
		Reload: func() error { reloads++; return nil },
		Logger: zaptest.NewLogger(t),
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	// 1. Create a spell
	createBody := `{"label": "Nox", "theme": "neutral", "hue": 270}`
	resp, err := client.Post(ts.URL+"/api/spells", "application/json", bytes.NewBufferString(createBody))
	if err != nil {
		t.Fatalf("POST /api/spells error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var created struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	if created.Label != "Nox" {
		t.Errorf("created label = %s, want Nox", created.Label)
	}

	// 2. List spells
	resp, _ = client.Get(ts.URL + "/api/spells")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/spells status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var listed struct {
		Spells []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		} `json:"spells"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()

	if len(listed.Spells) != 1 {
		t.Fatalf("len(spells) = %d, want 1", len(listed.Spells))
	}

	// 3. Update thresholds
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/settings", bytes.NewBufferString(`{"thresholds":{"spell":65}}`))
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /api/settings status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	resp.Body.Close()

	// 4. Delete spell
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/api/spells/"+created.ID, nil)
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	resp.Body.Close()

	// 5. Verify deleted
	resp, _ = client.Get(ts.URL + "/api/spells/" + created.ID)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	resp.Body.Close()

	if reloads != 3 {
		t.Errorf("reloads = %d, want 3", reloads)
	}
}

func TestAPI_HealthCheck(t *testing.T) {
	hub := NewStateHub(nil, zaptest.NewLogger(t))
	srv := New(Config{
		Hub:    hub,
		Status: func() map[string]any { return map[string]any{"enabled": true} },
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health struct {
		Status  string `json:"status"`
		Uptime  string `json:"uptime"`
		Clients int    `json:"clients"`
		Enabled bool   `json:"enabled"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" {
		t.Errorf("status = %s, want ok", health.Status)
	}
	if !health.Enabled {
		t.Error("expected status fields to be merged")
	}
}

func TestServer_ListenAndServeShutdown(t *testing.T) {
	srv := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ListenAndServe() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestAPI_StateEndpoint(t *testing.T) {
	hub := NewStateHub(presentation.DefaultSpells(), zaptest.NewLogger(t))
	srv := New(Config{Hub: hub})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	mapper := presentation.NewMapper(presentation.DefaultThresholds(), presentation.DefaultSpells())
	hub.Render(mapper.Present("Expelliarmus", 75))

	resp, err := ts.Client().Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state error = %v", err)
	}
	defer resp.Body.Close()

	var snap presentation.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.StatusText != "✨ Expelliarmus (75%) ✨" {
		t.Errorf("StatusText = %q", snap.StatusText)
	}
	if !snap.Effects["expelliarmus"] || snap.Effects["lumos"] {
		t.Errorf("Effects = %v", snap.Effects)
	}
	if snap.Background != "hsl(0, 87%, 20%)" {
		t.Errorf("Background = %q", snap.Background)
	}
}
