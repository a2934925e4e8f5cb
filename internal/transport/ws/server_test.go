package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/spatial/r3"

	"gridpilot.ai/internal/geom"
	"gridpilot.ai/internal/nav/autopilot"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/persistence/indexdb"
	"gridpilot.ai/internal/protocol"
	"gridpilot.ai/internal/sim/simworld"
	"gridpilot.ai/internal/sim/tuning"
)

type fakeStore struct {
	ship  grid.EntityID
	since uint64
}

func (f *fakeStore) Events(_ context.Context, ship grid.EntityID, since uint64, limit int) ([]indexdb.Row, uint64, error) {
	f.ship, f.since = ship, since
	rows := []indexdb.Row{
		{Cursor: since + 1, Event: navigator.Event{Tick: 5, Ship: ship, Navigator: "Miner", Kind: navigator.EventTransition, To: "Mining"}},
		{Cursor: since + 2, Event: navigator.Event{Tick: 9, Ship: ship, Navigator: "Miner", Kind: navigator.EventComplete, To: "Move"}},
	}
	return rows, since + 2, nil
}

type harness struct {
	url   string
	fleet *autopilot.Fleet
	store *fakeStore
	ship  grid.EntityID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	w := simworld.New(nil)
	g := w.AddGrid("Hauler", "home", r3.Vec{})
	g.AddBlock(grid.BlockRemoteControl, "Remote", r3.Vec{}, geom.Identity())

	tune := tuning.Defaults()
	tune.StatusEveryTicks = 600
	fleet := autopilot.NewFleet(w, autopilot.Config{Tuning: tune})
	if _, err := fleet.Add(g); err != nil {
		t.Fatalf("add: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fleet.Run(ctx)
	}()

	store := &fakeStore{}
	srv := httptest.NewServer(NewServer(fleet, store, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &harness{
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		fleet: fleet,
		store: store,
		ship:  g.ID(),
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads messages until one of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode %s: %v", msg, err)
		}
		if base.Type == typ {
			return msg
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, `{"type":"HELLO","protocol_version":"1.0","client_name":"panel","capabilities":{"max_queue":16,"status":true}}`)
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(next(t, conn, protocol.TypeWelcome), &w); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	return w
}

func TestHandshakeAndCommand(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.url)
	w := hello(t, conn)
	if w.SessionID == "" || len(w.Ships) != 1 || w.Ships[0] != "Hauler" || w.TickRateHz != 60 {
		t.Fatalf("welcome=%+v", w)
	}

	send(t, conn, `{"type":"COMMAND","protocol_version":"1.0","command_id":"c1","task":{"ship":"Hauler","kind":"FLY","position":[100,0,0]}}`)
	var ack protocol.AckMsg
	if err := json.Unmarshal(next(t, conn, protocol.TypeAck), &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !ack.Accepted || ack.AckFor != "c1" || ack.TaskID == "" {
		t.Fatalf("ack=%+v", ack)
	}

	send(t, conn, `{"type":"COMMAND","protocol_version":"1.0","command_id":"c2","task":{"ship":"Hauler","kind":"TELEPORT"}}`)
	var perr protocol.ErrorMsg
	if err := json.Unmarshal(next(t, conn, protocol.TypeError), &perr); err != nil {
		t.Fatalf("error: %v", err)
	}
	if perr.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error=%+v", perr)
	}

	send(t, conn, `{"type":"COMMAND","protocol_version":"1.0","command_id":"c3","task":{"ship":"Ghost","kind":"STOP"}}`)
	if err := json.Unmarshal(next(t, conn, protocol.TypeAck), &ack); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if ack.Accepted || ack.Code != protocol.ErrUnknownShip {
		t.Fatalf("ack=%+v", ack)
	}
}

func TestEventBatch(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.url)
	hello(t, conn)

	send(t, conn, `{"type":"EVENT_BATCH_REQ","protocol_version":"1.0","req_id":"r1","ship":"Hauler","since_cursor":10,"limit":50}`)
	var batch protocol.EventBatchMsg
	if err := json.Unmarshal(next(t, conn, protocol.TypeEventBatch), &batch); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.ReqID != "r1" || len(batch.Events) != 2 || batch.NextCursor != 12 {
		t.Fatalf("batch=%+v", batch)
	}
	if batch.Events[0].Event.To != "Mining" || batch.Events[0].Cursor != 11 {
		t.Fatalf("first=%+v", batch.Events[0])
	}
	if h.store.ship != h.ship || h.store.since != 10 {
		t.Fatalf("store saw ship=%d since=%d", h.store.ship, h.store.since)
	}

	send(t, conn, `{"type":"EVENT_BATCH_REQ","protocol_version":"1.0","req_id":"r2","ship":"Ghost"}`)
	var perr protocol.ErrorMsg
	if err := json.Unmarshal(next(t, conn, protocol.TypeError), &perr); err != nil {
		t.Fatalf("error: %v", err)
	}
	if perr.Code != protocol.ErrUnknownShip {
		t.Fatalf("error=%+v", perr)
	}
}

func TestHandshakeRejectsBadHello(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.url)
	send(t, conn, `{"type":"HELLO","protocol_version":"1.0","client_name":"panel","capabilities":{"max_queue":"lots"}}`)
	var perr protocol.ErrorMsg
	if err := json.Unmarshal(next(t, conn, protocol.TypeError), &perr); err != nil {
		t.Fatalf("error: %v", err)
	}
	if perr.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error=%+v", perr)
	}
}

func TestVersionMismatchAfterHandshake(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h.url)
	hello(t, conn)
	send(t, conn, `{"type":"COMMAND","protocol_version":"0.1","command_id":"c1","task":{"ship":"Hauler","kind":"STOP"}}`)
	var perr protocol.ErrorMsg
	if err := json.Unmarshal(next(t, conn, protocol.TypeError), &perr); err != nil {
		t.Fatalf("error: %v", err)
	}
	if perr.Code != protocol.ErrProtoVersion {
		t.Fatalf("error=%+v", perr)
	}
}
