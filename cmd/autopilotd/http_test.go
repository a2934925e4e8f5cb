package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"gridpilot.ai/internal/nav/autopilot"
	"gridpilot.ai/internal/persistence/indexdb"
	persistlog "gridpilot.ai/internal/persistence/log"
	"gridpilot.ai/internal/protocol"
	"gridpilot.ai/internal/sim/simworld"
	"gridpilot.ai/internal/sim/tuning"
)

func newTestFleet(t *testing.T, cfg autopilot.Config) *autopilot.Fleet {
	t.Helper()
	scen, err := loadScenario("")
	if err != nil {
		t.Fatalf("default scenario: %v", err)
	}
	w := simworld.New(nil)
	scen.Build(w)
	if cfg.Tuning.TickRateHz == 0 {
		cfg.Tuning = tuning.Defaults()
	}
	cfg.Tuning.StatusEveryTicks = 1
	f := autopilot.NewFleet(w, cfg)
	for _, name := range scen.Controlled() {
		g, _ := w.GridByName(name)
		if _, err := f.Add(g); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	return f
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp.StatusCode, string(b)
}

func TestDefaultScenario(t *testing.T) {
	scen, err := loadScenario("")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := scen.Controlled()
	want := []string{"Miner 1", "Salvager", "Builder"}
	if len(got) != len(want) {
		t.Fatalf("controlled=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("controlled=%v want %v", got, want)
		}
	}
	if _, err := loadScenario(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing scenario file accepted")
	}
}

func TestHealthzAndStatus(t *testing.T) {
	f := newTestFleet(t, autopilot.Config{})
	f.Step()
	srv := httptest.NewServer(newMux(hostDeps{Fleet: f}))
	defer srv.Close()

	if code, body := get(t, srv.URL+"/healthz"); code != 200 || body != "ok" {
		t.Fatalf("healthz %d %q", code, body)
	}

	code, body := get(t, srv.URL+"/v1/status")
	if code != 200 {
		t.Fatalf("status code=%d", code)
	}
	var st struct {
		Tick  uint64                `json:"tick"`
		Ships []protocol.ShipStatus `json:"ships"`
	}
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Tick != 1 || len(st.Ships) != 3 || st.Ships[0].Ship != "Miner 1" {
		t.Fatalf("status=%s", body)
	}
	if st.Ships[0].State != string(autopilot.StateIdle) {
		t.Fatalf("state=%q", st.Ships[0].State)
	}

	resp, err := http.Post(srv.URL+"/v1/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post code=%d", resp.StatusCode)
	}
}

func TestMetricsWithoutIndex(t *testing.T) {
	f := newTestFleet(t, autopilot.Config{})
	f.Step()
	f.Step()
	srv := httptest.NewServer(newMux(hostDeps{Fleet: f}))
	defer srv.Close()

	_, body := get(t, srv.URL+"/metrics")
	for _, want := range []string{
		"gridpilot_fleet_tick 2\n",
		"gridpilot_fleet_ships{state=\"all\"} 3\n",
		"gridpilot_reservations 0\n",
		"gridpilot_queue_depth{queue=\"inbox\"} 0\n",
		"gridpilot_journal_write_fail_total 0\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "gridpilot_index_") {
		t.Fatalf("index metrics without an index:\n%s", body)
	}
}

func TestMetricsWithIndex(t *testing.T) {
	dir := t.TempDir()
	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "events.sqlite"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()
	journal := persistlog.NewJournal(dir, nil, nil)
	defer journal.Close()

	f := newTestFleet(t, autopilot.Config{DroppedWrites: idx.Dropped})
	f.Step()
	srv := httptest.NewServer(newMux(hostDeps{Fleet: f, Index: idx, Journal: journal}))
	defer srv.Close()

	_, body := get(t, srv.URL+"/metrics")
	for _, want := range []string{
		"gridpilot_index_dropped_writes_total 0\n",
		"gridpilot_index_queue_capacity 65536\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}
