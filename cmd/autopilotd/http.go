package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gridpilot.ai/internal/nav/autopilot"
	"gridpilot.ai/internal/persistence/indexdb"
	persistlog "gridpilot.ai/internal/persistence/log"
	"gridpilot.ai/internal/protocol"
)

type fleetView interface {
	Metrics() autopilot.Metrics
	Statuses() []protocol.ShipStatus
}

type hostDeps struct {
	Fleet   fleetView
	Index   *indexdb.SQLiteIndex // nil with -disable_db
	Journal *persistlog.Journal
	WS      http.Handler
}

func newMux(d hostDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		var journalFailed uint64
		if d.Journal != nil {
			journalFailed = d.Journal.Failed()
		}
		writeMetrics(rw, d.Fleet.Metrics(), d.Index.Stats(), d.Index != nil, journalFailed)
	})
	mux.HandleFunc("/v1/status", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			Tick  uint64                `json:"tick"`
			Ships []protocol.ShipStatus `json:"ships"`
		}{
			Tick:  d.Fleet.Metrics().Tick,
			Ships: d.Fleet.Statuses(),
		}
		if resp.Ships == nil {
			resp.Ships = []protocol.ShipStatus{}
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	if d.WS != nil {
		mux.Handle("/v1/ws", d.WS)
	}
	return mux
}

// writeMetrics renders the Prometheus text exposition format.
func writeMetrics(w io.Writer, m autopilot.Metrics, idx indexdb.Stats, indexed bool, journalFailed uint64) {
	fmt.Fprintf(w, "# HELP gridpilot_fleet_tick Current simulation tick.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_fleet_tick gauge\n")
	fmt.Fprintf(w, "gridpilot_fleet_tick %d\n", m.Tick)

	fmt.Fprintf(w, "# HELP gridpilot_fleet_ships Ships under autopilot control.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_fleet_ships gauge\n")
	fmt.Fprintf(w, "gridpilot_fleet_ships{state=%q} %d\n", "all", m.Ships)
	fmt.Fprintf(w, "gridpilot_fleet_ships{state=%q} %d\n", "running", m.Running)
	fmt.Fprintf(w, "gridpilot_fleet_ships{state=%q} %d\n", "targeting", m.Targeted)

	fmt.Fprintf(w, "# HELP gridpilot_fleet_clients Connected websocket clients.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_fleet_clients gauge\n")
	fmt.Fprintf(w, "gridpilot_fleet_clients %d\n", m.Clients)

	fmt.Fprintf(w, "# HELP gridpilot_reservations Targets currently reserved.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_reservations gauge\n")
	fmt.Fprintf(w, "gridpilot_reservations %d\n", m.Reservations)

	fmt.Fprintf(w, "# HELP gridpilot_reservations_total Reservation changes since start.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_reservations_total counter\n")
	fmt.Fprintf(w, "gridpilot_reservations_total{op=%q} %d\n", "reserve", m.ReservedTotal)
	fmt.Fprintf(w, "gridpilot_reservations_total{op=%q} %d\n", "release", m.ReleasedTotal)

	fmt.Fprintf(w, "# HELP gridpilot_deferred_depth Deferred block commands drained in the last tick.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_deferred_depth gauge\n")
	fmt.Fprintf(w, "gridpilot_deferred_depth %d\n", m.DeferredDepth)

	fmt.Fprintf(w, "# HELP gridpilot_deferred_failed_total Deferred block commands that failed or panicked.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_deferred_failed_total counter\n")
	fmt.Fprintf(w, "gridpilot_deferred_failed_total %d\n", m.DeferredFailed)

	fmt.Fprintf(w, "# HELP gridpilot_levels_completed_total Settings levels finished by navigators.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_levels_completed_total counter\n")
	fmt.Fprintf(w, "gridpilot_levels_completed_total %d\n", m.LevelsCompleted)

	fmt.Fprintf(w, "# HELP gridpilot_queue_depth Fleet channel backlog depth.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_queue_depth gauge\n")
	fmt.Fprintf(w, "gridpilot_queue_depth{queue=%q} %d\n", "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(w, "gridpilot_queue_depth{queue=%q} %d\n", "join", m.QueueDepths.Join)
	fmt.Fprintf(w, "gridpilot_queue_depth{queue=%q} %d\n", "leave", m.QueueDepths.Leave)

	fmt.Fprintf(w, "# HELP gridpilot_step_ms Last fleet step duration in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_step_ms gauge\n")
	fmt.Fprintf(w, "gridpilot_step_ms %.3f\n", m.StepMS)

	fmt.Fprintf(w, "# HELP gridpilot_journal_write_fail_total Journal writes that failed.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_journal_write_fail_total counter\n")
	fmt.Fprintf(w, "gridpilot_journal_write_fail_total %d\n", journalFailed)

	if !indexed {
		return
	}
	fmt.Fprintf(w, "# HELP gridpilot_index_dropped_writes_total Index writes lost to a full queue or a failed write.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_index_dropped_writes_total counter\n")
	fmt.Fprintf(w, "gridpilot_index_dropped_writes_total %d\n", m.DroppedIndexRows)

	fmt.Fprintf(w, "# HELP gridpilot_index_committed_total Events committed to the index.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_index_committed_total counter\n")
	fmt.Fprintf(w, "gridpilot_index_committed_total %d\n", idx.CommittedTotal)

	fmt.Fprintf(w, "# HELP gridpilot_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_index_queue_depth gauge\n")
	fmt.Fprintf(w, "gridpilot_index_queue_depth %d\n", idx.QueueDepth)

	fmt.Fprintf(w, "# HELP gridpilot_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(w, "# TYPE gridpilot_index_queue_capacity gauge\n")
	fmt.Fprintf(w, "gridpilot_index_queue_capacity %d\n", idx.QueueCapacity)
}
