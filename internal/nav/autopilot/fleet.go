package autopilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brunoga/deep"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"gridpilot.ai/internal/nav/command"
	"gridpilot.ai/internal/nav/deferred"
	"gridpilot.ai/internal/nav/grid"
	"gridpilot.ai/internal/nav/navigator"
	"gridpilot.ai/internal/nav/reserve"
	"gridpilot.ai/internal/nav/settings"
	"gridpilot.ai/internal/nav/tracker"
	"gridpilot.ai/internal/protocol"
	"gridpilot.ai/internal/sim/simworld"
	"gridpilot.ai/internal/sim/tasks"
	"gridpilot.ai/internal/sim/tuning"
)

type Config struct {
	Tuning tuning.Tuning
	Log    *log.Logger
	// Sink receives every navigation event of every ship, on the fleet goroutine.
	Sink navigator.EventSink
	// DroppedWrites reports index writes lost because the indexer fell behind.
	DroppedWrites func() uint64
}

// CommandEnvelope is a COMMAND received from a connected client.
type CommandEnvelope struct {
	ClientID string
	Cmd      protocol.CommandMsg
}

type JoinRequest struct {
	Name   string
	Ships  []string
	Status bool
	Out    chan []byte
	Resp   chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// Fleet drives every controlled ship of one world on a single goroutine.
type Fleet struct {
	world *simworld.World
	tune  tuning.Tuning
	log   *log.Logger
	sink  navigator.EventSink

	reservations *reserve.Registry
	targeters    *tracker.Tracker
	dropped      func() uint64

	ships []*Autopilot

	namesMu sync.RWMutex
	names   map[string]grid.EntityID
	byName  map[string]*Autopilot

	clients map[string]*client

	inbox chan CommandEnvelope
	join  chan JoinRequest
	leave chan string
	stop  chan struct{}
	once  sync.Once

	metrics atomic.Value
	status  atomic.Value
}

type client struct {
	name   string
	ships  map[string]bool
	status bool
	out    chan []byte
}

func NewFleet(w *simworld.World, cfg Config) *Fleet {
	logger := cfg.Log
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Tuning.TickRateHz == 0 {
		cfg.Tuning = tuning.Defaults()
	}
	f := &Fleet{
		world:        w,
		tune:         cfg.Tuning,
		log:          logger.WithPrefix("fleet"),
		sink:         cfg.Sink,
		reservations: reserve.NewRegistry(),
		targeters:    tracker.New(),
		dropped:      cfg.DroppedWrites,
		names:        map[string]grid.EntityID{},
		byName:       map[string]*Autopilot{},
		clients:      map[string]*client{},
		inbox:        make(chan CommandEnvelope, 1024),
		join:         make(chan JoinRequest, 64),
		leave:        make(chan string, 64),
		stop:         make(chan struct{}),
	}
	f.metrics.Store(Metrics{})
	f.status.Store([]protocol.ShipStatus(nil))
	return f
}

// Add puts g under autopilot control. Call it before Run.
func (f *Fleet) Add(g *simworld.Grid) (*Autopilot, error) {
	if _, dup := f.byName[g.Name]; dup {
		return nil, fmt.Errorf("fleet: ship %q added twice", g.Name)
	}
	t := f.tune
	stack := settings.New(settings.Defaults{DestinationRadius: t.DefaultDestinationRadius, SpeedTarget: t.DefaultSpeed})
	p, err := f.world.Bind(g.ID(), stack)
	if err != nil {
		return nil, err
	}
	shipLog := f.log.With("ship", g.Name)
	p.Queue = deferred.New(shipLog)
	p.Reservations = f.reservations
	p.Targeters = f.targeters
	p.Tuning = t
	p.Log = shipLog
	p.Events = f.sink
	a := New(&p)

	f.ships = append(f.ships, a)
	f.byName[g.Name] = a
	f.namesMu.Lock()
	f.names[g.Name] = g.ID()
	f.namesMu.Unlock()
	return a, nil
}

// Ship returns the autopilot of the named ship. Only the fleet goroutine may use it once
// Run has started.
func (f *Fleet) Ship(name string) (*Autopilot, bool) {
	a, ok := f.byName[name]
	return a, ok
}

// ShipID resolves a ship name. It is safe from any goroutine.
func (f *Fleet) ShipID(name string) (grid.EntityID, bool) {
	f.namesMu.RLock()
	defer f.namesMu.RUnlock()
	id, ok := f.names[name]
	return id, ok
}

func (f *Fleet) Inbox() chan<- CommandEnvelope { return f.inbox }
func (f *Fleet) Join() chan<- JoinRequest       { return f.join }
func (f *Fleet) Leave() chan<- string           { return f.leave }
func (f *Fleet) TickRateHz() int                { return f.tune.TickRateHz }

func (f *Fleet) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(f.tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingCommands []CommandEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return ctx.Err()
		case <-f.stop:
			f.closeAll()
			return nil
		case req := <-f.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-f.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-f.inbox:
			pendingCommands = append(pendingCommands, env)
		case <-ticker.C:
			f.step(pendingJoins, pendingLeaves, pendingCommands)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingCommands = pendingCommands[:0]
		}
	}
}

func (f *Fleet) Stop() { f.once.Do(func() { close(f.stop) }) }

// Step advances the fleet by one tick without any client traffic.
func (f *Fleet) Step() { f.step(nil, nil, nil) }

func (f *Fleet) step(joins []JoinRequest, leaves []string, cmds []CommandEnvelope) {
	start := time.Now()
	for _, req := range joins {
		f.handleJoin(req)
	}
	for _, id := range leaves {
		delete(f.clients, id)
	}
	for _, env := range cmds {
		f.handleCommand(env)
	}

	for _, a := range f.ships {
		a.Tick()
	}
	f.world.Step()

	tick := f.world.Tick()
	if every := f.tune.StatusEveryTicks; every > 0 && tick%every == 0 {
		f.broadcastStatus(tick)
	}
	f.storeMetrics(tick, time.Since(start))
}

func (f *Fleet) handleJoin(req JoinRequest) {
	id := uuid.NewString()
	c := &client{name: req.Name, status: req.Status, out: req.Out}
	if len(req.Ships) > 0 {
		c.ships = map[string]bool{}
		for _, s := range req.Ships {
			c.ships[s] = true
		}
	}
	f.clients[id] = c
	f.log.Info("client joined", "client", req.Name, "session", id)

	names := make([]string, 0, len(f.ships))
	for _, a := range f.ships {
		names = append(names, a.p.Ship.Name())
	}
	kinds := make([]string, 0, len(tasks.Kinds()))
	for _, k := range tasks.Kinds() {
		kinds = append(kinds, string(k))
	}
	if req.Resp == nil {
		return
	}
	req.Resp <- JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       id,
		TickRateHz:      f.tune.TickRateHz,
		StatusEvery:     int(f.tune.StatusEveryTicks),
		Ships:           names,
		Kinds:           kinds,
	}}
}

func (f *Fleet) handleCommand(env CommandEnvelope) {
	c := f.clients[env.ClientID]
	ack := f.submit(env.Cmd)
	if c == nil {
		return
	}
	b, err := json.Marshal(ack)
	if err != nil {
		f.log.Error("encode ack", "err", err)
		return
	}
	sendLatest(c.out, b)
}

// submit queues cmd's task on its ship and returns the ACK for it.
func (f *Fleet) submit(cmd protocol.CommandMsg) protocol.AckMsg {
	tick := f.world.Tick()
	if cmd.ProtocolVersion != protocol.Version {
		return protocol.Reject(cmd.CommandID, protocol.ErrProtoVersion, "unsupported protocol_version", tick)
	}
	var (
		id  string
		err error
	)
	if a, ok := f.byName[cmd.Task.Ship]; ok {
		id, err = a.Submit(cmd.Task, cmd.Interrupt)
	} else {
		err = fmt.Errorf("%w: %q", command.ErrNoShip, cmd.Task.Ship)
	}
	if err != nil {
		return protocol.Reject(cmd.CommandID, errorCode(err), err.Error(), tick)
	}
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          cmd.CommandID,
		Accepted:        true,
		TaskID:          id,
		ServerTick:      tick,
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, command.ErrNoShip):
		return protocol.ErrUnknownShip
	case errors.Is(err, command.ErrUnknownKind):
		return protocol.ErrUnknownKind
	case errors.Is(err, command.ErrNoBlock):
		return protocol.ErrNoBlock
	case errors.Is(err, command.ErrInvalid):
		return protocol.ErrBadRequest
	case errors.Is(err, ErrClosed):
		return protocol.ErrRejected
	}
	return protocol.ErrInternal
}

func (f *Fleet) broadcastStatus(tick uint64) {
	all := make([]protocol.ShipStatus, 0, len(f.ships))
	for _, a := range f.ships {
		all = append(all, a.Status())
	}
	f.status.Store(all)

	for id, c := range f.clients {
		if !c.status {
			continue
		}
		msg := protocol.StatusMsg{Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, Tick: tick, Ships: all}
		if c.ships != nil {
			msg.Ships = make([]protocol.ShipStatus, 0, len(c.ships))
			for _, s := range all {
				if c.ships[s.Ship] {
					msg.Ships = append(msg.Ships, s)
				}
			}
		}
		b, err := json.Marshal(msg)
		if err != nil {
			f.log.Error("encode status", "client", id, "err", err)
			continue
		}
		sendLatest(c.out, b)
	}
}

// Statuses returns the ship panels of the last STATUS broadcast.
func (f *Fleet) Statuses() []protocol.ShipStatus {
	v, _ := f.status.Load().([]protocol.ShipStatus)
	return deep.MustCopy(v)
}

func (f *Fleet) closeAll() {
	for _, a := range f.ships {
		a.Close()
	}
}

func sendLatest(ch chan []byte, b []byte) {
	if ch == nil {
		return
	}
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
