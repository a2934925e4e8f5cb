package protocol

import "gridpilot.ai/internal/nav/settings"

// STATUS (server -> client), sent every few ticks.
type StatusMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	Ships           []ShipStatus `json:"ships"`
}

// ShipStatus is one ship's status panel.
type ShipStatus struct {
	Ship     string            `json:"ship"`
	Entity   int64             `json:"entity"`
	State    string            `json:"state"`
	TaskID   string            `json:"task_id,omitempty"`
	Task     string            `json:"task,omitempty"`
	Queued   int               `json:"queued"`
	Text     string            `json:"text"`
	Pos      [3]float64        `json:"pos"`
	Speed    float64           `json:"speed"`
	Settings settings.Snapshot `json:"settings"`
}
