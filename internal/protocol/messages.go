package protocol

import "gridpilot.ai/internal/sim/tasks"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	// Ships limits STATUS to the named ships; empty means every ship.
	Ships []string `json:"ships,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int  `json:"max_queue,omitempty"`
	Status   bool `json:"status,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	TickRateHz      int      `json:"tick_rate_hz"`
	StatusEvery     int      `json:"status_every_ticks"`
	Ships           []string `json:"ships"`
	Kinds           []string `json:"kinds"`
}

// COMMAND (client -> server): queue a task on one ship. Interrupt drops whatever the ship
// is doing and everything queued behind it.
type CommandMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	CommandID       string     `json:"command_id"`
	Interrupt       bool       `json:"interrupt,omitempty"`
	Task            tasks.Task `json:"task"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	TaskID          string `json:"task_id,omitempty"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}

// ERROR (server -> client) answers a message that could not be routed at all.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}

func Reject(ackFor, code, msg string, tick uint64) AckMsg {
	return AckMsg{
		Type:            TypeAck,
		ProtocolVersion: Version,
		AckFor:          ackFor,
		Code:            code,
		Message:         msg,
		ServerTick:      tick,
	}
}
