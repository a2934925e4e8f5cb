package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"gridpilot.ai/internal/nav/autopilot"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/persistence/indexdb"
	"gridpilot.ai/internal/protocol"
)

// Fleet is the part of the fleet loop a connection talks to.
type Fleet interface {
	Inbox() chan<- autopilot.CommandEnvelope
	Join() chan<- autopilot.JoinRequest
	Leave() chan<- string
	ShipID(name string) (grid.EntityID, bool)
}

// EventStore answers EVENT_BATCH_REQ.
type EventStore interface {
	Events(ctx context.Context, ship grid.EntityID, since uint64, limit int) ([]indexdb.Row, uint64, error)
}

type Server struct {
	fleet  Fleet
	events EventStore
	log    *log.Logger

	upgrader websocket.Upgrader
}

// NewServer serves clients of fleet. events may be nil when the index is disabled.
func NewServer(fleet Fleet, events EventStore, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		fleet:  fleet,
		events: events,
		log:    logger.WithPrefix("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handle(ctx, sessionID, msg, out)
		}

		// Cleanup.
		s.fleet.Leave() <- sessionID
		s.log.Debug("client left", "session", sessionID)
	}
}

func (s *Server) handle(ctx context.Context, sessionID string, msg []byte, out chan []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.reply(ctx, out, protocol.NewError(protocol.ErrProtoBadRequest, "malformed json"))
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.reply(ctx, out, protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version"))
		return
	}
	switch base.Type {
	case protocol.TypeCommand:
		if err := protocol.Validate(protocol.TypeCommand, msg); err != nil {
			s.reply(ctx, out, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		var cmd protocol.CommandMsg
		if err := json.Unmarshal(msg, &cmd); err != nil {
			s.reply(ctx, out, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		select {
		case s.fleet.Inbox() <- autopilot.CommandEnvelope{ClientID: sessionID, Cmd: cmd}:
		default:
			s.reply(ctx, out, protocol.Reject(cmd.CommandID, protocol.ErrFleetBusy, "command queue full", 0))
		}

	case protocol.TypeEventBatchReq:
		if err := protocol.Validate(protocol.TypeEventBatchReq, msg); err != nil {
			s.reply(ctx, out, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		var req protocol.EventBatchReqMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			s.reply(ctx, out, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		s.eventBatch(ctx, req, out)

	default:
		s.reply(ctx, out, protocol.NewError(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type))
	}
}

func (s *Server) eventBatch(ctx context.Context, req protocol.EventBatchReqMsg, out chan []byte) {
	if s.events == nil {
		s.reply(ctx, out, protocol.NewError(protocol.ErrInternal, "event index disabled"))
		return
	}
	var ship grid.EntityID
	if req.Ship != "" {
		id, ok := s.fleet.ShipID(req.Ship)
		if !ok {
			s.reply(ctx, out, protocol.NewError(protocol.ErrUnknownShip, "no ship named "+req.Ship))
			return
		}
		ship = id
	}
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, next, err := s.events.Events(qctx, ship, req.SinceCursor, req.Limit)
	if err != nil {
		s.log.Warn("event batch", "req", req.ReqID, "err", err)
		s.reply(ctx, out, protocol.NewError(protocol.ErrInternal, "event query failed"))
		return
	}
	resp := protocol.EventBatchMsg{
		Type:            protocol.TypeEventBatch,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		Events:          make([]protocol.EventBatchItem, 0, len(rows)),
		NextCursor:      next,
	}
	for _, r := range rows {
		resp.Events = append(resp.Events, protocol.EventBatchItem{Cursor: r.Cursor, Event: r.Event})
	}
	s.reply(ctx, out, resp)
}

func (s *Server) reply(ctx context.Context, out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode reply", "err", err)
		return
	}
	select {
	case out <- b:
	case <-ctx.Done():
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoBadRequest, err.Error()))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan autopilot.JoinResponse, 1)
	s.fleet.Join() <- autopilot.JoinRequest{
		Name:   hello.ClientName,
		Ships:  hello.Ships,
		Status: hello.Capabilities.Status,
		Out:    out,
		Resp:   respCh,
	}
	resp := <-respCh

	if err := writeJSON(conn, resp.Welcome); err != nil {
		return "", nil
	}
	s.log.Debug("client joined", "client", hello.ClientName, "session", resp.Welcome.SessionID)
	return resp.Welcome.SessionID, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
