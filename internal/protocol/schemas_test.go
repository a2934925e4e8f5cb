package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"gridpilot.ai/internal/nav/settings"
	"gridpilot.ai/internal/protocol"
	"gridpilot.ai/internal/sim/tasks"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	samples := map[string]string{
		protocol.TypeHello: `{
		  "type":"HELLO",
		  "protocol_version":"1.0",
		  "client_name":"panel",
		  "capabilities":{"max_queue":8,"status":true},
		  "ships":["Miner 1"]
		}`,
		protocol.TypeCommand: `{
		  "type":"COMMAND",
		  "protocol_version":"1.0",
		  "command_id":"c1",
		  "interrupt":true,
		  "task":{"ship":"Miner 1","kind":"DOCK","target":"Base","block":"Dock","forward":"Backward","speed":20}
		}`,
		protocol.TypeEventBatchReq: `{
		  "type":"EVENT_BATCH_REQ",
		  "protocol_version":"1.0",
		  "req_id":"r1",
		  "since_cursor":0,
		  "limit":50
		}`,
	}
	for typ, raw := range samples {
		if err := protocol.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}
}

func TestSchemas_RejectBadCommands(t *testing.T) {
	bad := []string{
		`{"type":"COMMAND","protocol_version":"1.0","command_id":"c1"}`,
		`{"type":"COMMAND","protocol_version":"1.0","command_id":"c1","task":{"ship":"A","kind":"TELEPORT"}}`,
		`{"type":"COMMAND","protocol_version":"1.0","command_id":"c1","task":{"ship":"A","kind":"FLY","position":[1,2]}}`,
		`{"type":"COMMAND","protocol_version":"1.0","command_id":"c1","task":{"ship":"A","kind":"STOP","speed":-1}}`,
		`{"type":"COMMAND","protocol_version":"1.0","command_id":"c1","task":{"ship":"A","kind":"STOP","warp":true}}`,
		`not json`,
	}
	for _, raw := range bad {
		if err := protocol.Validate(protocol.TypeCommand, []byte(raw)); !errors.Is(err, protocol.ErrSchema) {
			t.Fatalf("%s: err=%v", raw, err)
		}
	}
	if err := protocol.Validate(protocol.TypeAck, []byte(`{}`)); !errors.Is(err, protocol.ErrSchema) {
		t.Fatalf("ACK has no inbound schema: err=%v", err)
	}
}

func TestSchemas_EncodedMessagesMatch(t *testing.T) {
	pos := tasks.Vec{100, 0, -50}
	cmd := protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		CommandID:       "c2",
		Task:            tasks.Task{Ship: "Hauler", Kind: tasks.KindFly, Position: &pos},
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := protocol.Validate(protocol.TypeCommand, b); err != nil {
		t.Fatalf("command: %v\n%s", err, b)
	}

	st := protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		Tick:            42,
		Ships: []protocol.ShipStatus{{
			Ship:     "Hauler",
			Entity:   3,
			State:    "running",
			Text:     "Moving to (100, 0, -50)\n",
			Settings: settings.Snapshot{SpeedTarget: 100, DestinationRadius: 100},
		}},
	}
	b, err = json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := protocol.Validate(protocol.TypeStatus, b); err != nil {
		t.Fatalf("status: %v\n%s", err, b)
	}
}
