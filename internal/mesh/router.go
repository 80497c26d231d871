// Package mesh routes decoded device messages to the topology store, the
// state cache, the liveness tracker and subscribers, and publishes device
// commands back to the broker.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"domator-go/internal/firmware"
	"domator-go/internal/hub"
	"domator-go/internal/liveness"
	"domator-go/internal/metrics"
	"domator-go/internal/naming"
	"domator-go/internal/protocol"
	"domator-go/internal/state"
	"domator-go/internal/store"
)

// Transport is a connected publish/subscribe client.
type Transport interface {
	Subscribe(filter string, handler func(topic string, payload []byte)) error
	Publish(topic string, payload []byte, qos byte) error
}

// Broadcaster delivers messages to subscribers.
type Broadcaster interface {
	Broadcast(ch hub.Channel, msg any)
	SendDirect(sub *hub.Subscriber, msg any) error
}

// MetricsSink receives telemetry. Writes must not block.
type MetricsSink interface {
	WriteNode(r metrics.NodeReport)
	WriteHeating(m protocol.HeatingMetrics)
}

// Config tunes the router.
type Config struct {
	TopicPrefix   string
	QoS           byte
	Lanes         int
	LaneDepth     int
	SweepInterval time.Duration
	PingInterval  time.Duration
}

// Deps are the collaborators owned by the composition root.
type Deps struct {
	Store     store.Store
	Cache     *state.Cache
	Liveness  *liveness.Tracker
	Names     *naming.Assigner
	Firmware  *firmware.Catalog
	Hub       Broadcaster
	Transport Transport
	Metrics   MetricsSink
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// deviceInfo is the latest self-report detail kept for online status.
type deviceInfo struct {
	kind     store.Kind
	firmware string
	upToDate bool
	rssi     *int64
}

// Router owns inbound dispatch and outbound commands.
type Router struct {
	cfg     Config
	store   store.Store
	cache   *state.Cache
	live    *liveness.Tracker
	names   *naming.Assigner
	fw      *firmware.Catalog
	hub     Broadcaster
	tr      Transport
	metrics MetricsSink
	logger  *slog.Logger
	now     func() time.Time

	decoder *protocol.Decoder
	encoder *protocol.Encoder
	events  *EventBus
	lanes   *lanes

	// stateMu orders state dumps against light_state broadcasts: handlers
	// hold it shared, a dump holds it exclusively.
	stateMu sync.RWMutex

	mu      sync.Mutex
	devices map[uint64]*deviceInfo

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, d Deps) *Router {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 8
	}
	if cfg.LaneDepth <= 0 {
		cfg.LaneDepth = 64
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	logger := d.Logger.With("component", "mesh")
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cfg:     cfg,
		store:   d.Store,
		cache:   d.Cache,
		live:    d.Liveness,
		names:   d.Names,
		fw:      d.Firmware,
		hub:     d.Hub,
		tr:      d.Transport,
		metrics: d.Metrics,
		logger:  logger,
		now:     d.Now,
		decoder: protocol.NewDecoder(cfg.TopicPrefix),
		encoder: protocol.NewEncoder(cfg.TopicPrefix),
		events:  NewEventBus(logger),
		lanes:   newLanes(cfg.Lanes, cfg.LaneDepth),
		devices: make(map[uint64]*deviceInfo),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Events returns the router's event bus.
func (r *Router) Events() *EventBus { return r.events }

// Start subscribes to every device topic and starts the periodic sweep and
// ping loops.
func (r *Router) Start() error {
	for _, filter := range r.decoder.Subscriptions() {
		if err := r.tr.Subscribe(filter, r.HandleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", filter, err)
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.live.Run(r.ctx, r.cfg.SweepInterval, r.handleOffline)
	}()

	if r.cfg.PingInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.pingLoop(r.ctx, r.cfg.PingInterval)
		}()
	}

	r.logger.Info("mesh router started", "prefix", r.cfg.TopicPrefix, "lanes", r.cfg.Lanes)
	return nil
}

// Stop refuses new messages, lets queued ones finish and stops the loops.
func (r *Router) Stop() {
	r.lanes.close()
	r.cancel()
	r.wg.Wait()
	r.logger.Info("mesh router stopped")
}

// HandleMessage is the transport callback. Malformed messages are logged
// and dropped.
func (r *Router) HandleMessage(topic string, payload []byte) {
	ev, err := r.decoder.Decode(topic, payload)
	if err != nil {
		r.logger.Warn("dropping message", "topic", topic, "err", err)
		return
	}
	if !r.lanes.submit(ev.DeviceKey(), func() { r.dispatch(ev) }) {
		r.logger.Debug("router stopped, message dropped", "topic", topic)
	}
}

func (r *Router) dispatch(ev protocol.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic", "event", fmt.Sprintf("%T", ev), "panic", rec)
		}
	}()

	switch e := ev.(type) {
	case protocol.RootBooted:
		r.handleRootBooted()
	case protocol.DeviceStatus:
		r.handleDeviceStatus(e)
	case protocol.RelayOutputState:
		r.handleRelayOutputState(e)
	case protocol.RelayPing:
		r.handleRelayPing(e)
	case protocol.ButtonPress:
		r.handleButtonPress(e)
	case protocol.HeatingMetrics:
		r.handleHeating(e)
	case protocol.BlindPosition:
		r.handleBlind(e)
	default:
		r.logger.Warn("unhandled event", "event", fmt.Sprintf("%T", ev))
	}
}

func (r *Router) handleRootBooted() {
	r.logger.Info("root gateway connected, pushing topology")
	if err := r.PushTopology(); err != nil {
		r.logger.Error("push topology", "err", err)
	}
	r.publish(r.encoder.BroadcastCommand(store.KindRelay, protocol.CmdRefresh))
	r.publish(r.encoder.BroadcastCommand(store.KindSwitch, protocol.CmdRefresh))
	r.events.Emit(Event{Type: EventRootBooted, Data: map[string]any{}})
}

func (r *Router) handleDeviceStatus(st protocol.DeviceStatus) {
	now := r.now()
	id := strconv.FormatUint(st.DeviceID, 10)

	name, created, err := r.names.AssignIfAbsent(r.ctx, st.DeviceID, st.Kind)
	if err != nil {
		r.logger.Error("assign name", "device", st.DeviceID, "err", err)
	}
	if created {
		r.hub.Broadcast(hub.Topology, updateMsg)
		r.events.Emit(Event{Type: EventDeviceNamed, Data: map[string]any{
			"device": id, "kind": string(st.Kind), "name": name,
		}})
	}

	if err := r.store.SaveDeviceRecord(store.DeviceRecord{
		ID: st.DeviceID, Kind: st.Kind, Firmware: st.Firmware, LastSeen: now,
	}); err != nil {
		r.logger.Warn("save device record", "device", st.DeviceID, "err", err)
	}

	upToDate := r.fw == nil || r.fw.UpToDate(st.Kind, st.Firmware)
	if !upToDate {
		r.logger.Debug("device firmware is stale", "device", st.DeviceID, "firmware", st.Firmware)
	}
	r.mu.Lock()
	info, known := r.devices[st.DeviceID]
	if !known {
		info = &deviceInfo{}
		r.devices[st.DeviceID] = info
	}
	flagChanged := !known || info.upToDate != upToDate
	info.kind, info.firmware, info.upToDate, info.rssi = st.Kind, st.Firmware, upToDate, st.RSSI
	r.mu.Unlock()

	cameOnline := r.live.MarkOnline(st.DeviceID, st.Kind, now)
	if cameOnline {
		r.events.Emit(Event{Type: EventDeviceOnline, Data: map[string]any{"device": id, "kind": string(st.Kind)}})
	}
	if cameOnline || flagChanged {
		r.broadcastOnlineStatus()
	}

	if r.metrics != nil {
		report := metrics.ReportFromStatus(st)
		report.Name = name
		report.ParentName = r.nameOf(report.ParentID)
		report.Online = true
		report.LastSeen = now
		r.metrics.WriteNode(report)
	}
}

// nameOf resolves a device id to its display name, or "" if unknown.
func (r *Router) nameOf(id uint64) string {
	if id == 0 {
		return ""
	}
	if snap := r.live.Snapshot(); snap.RootSeen && snap.Root == id {
		return naming.RootName
	}
	if rl, err := r.store.Relay(id); err == nil {
		return rl.Name
	}
	if sw, err := r.store.Switch(id); err == nil {
		return sw.Name
	}
	return ""
}

func (r *Router) handleRelayOutputState(e protocol.RelayOutputState) {
	msg := lightState(e.RelayID, e.OutputID, e.State)
	r.stateMu.RLock()
	r.cache.SetOutputState(e.RelayID, e.OutputID, e.State)
	r.hub.Broadcast(hub.Lights, msg)
	r.hub.Broadcast(hub.Topology, msg)
	r.stateMu.RUnlock()

	r.markOnline(e.RelayID, store.KindRelay)
	r.events.Emit(Event{Type: EventOutputState, Data: map[string]any{
		"relay": strconv.FormatUint(e.RelayID, 10), "output": e.OutputID, "state": e.State,
	}})
}

func (r *Router) handleRelayPing(e protocol.RelayPing) {
	r.markOnline(e.RelayID, store.KindRelay)
	if latency, ok := r.cache.PingReceived(e.RelayID, r.now()); ok {
		r.logger.Debug("relay ping", "relay", e.RelayID, "latency", latency)
	}
}

func (r *Router) handleButtonPress(e protocol.ButtonPress) {
	r.markOnline(e.SwitchID, store.KindSwitch)
	r.hub.Broadcast(hub.Topology, SwitchState{Type: "switch_state", SwitchID: e.SwitchID, ButtonID: e.ButtonID})
	r.events.Emit(Event{Type: EventButtonPress, Data: map[string]any{
		"switch": strconv.FormatUint(e.SwitchID, 10), "button": e.ButtonID,
	}})

	targets, err := r.targets(e.SwitchID, e.ButtonID)
	if err != nil {
		r.logger.Error("resolve button targets", "switch", e.SwitchID, "button", e.ButtonID, "err", err)
		return
	}
	for _, t := range targets {
		if err := r.ToggleOutput(t.RelayID, t.OutputID); err != nil {
			r.logger.Warn("toggle output", "relay", t.RelayID, "output", t.OutputID, "err", err)
		}
	}
}

// targets returns the outputs bound to a button, skipping edges whose
// output no longer exists.
func (r *Router) targets(switchID uint64, buttonID string) ([]store.Target, error) {
	conns, err := r.store.AllConnections()
	if err != nil {
		return nil, err
	}
	var bound []store.Connection
	for _, c := range conns {
		if c.SwitchID == switchID && c.ButtonID == buttonID {
			bound = append(bound, c)
		}
	}
	if len(bound) == 0 {
		return nil, nil
	}

	live, err := r.resolvable(bound)
	if err != nil {
		return nil, err
	}
	out := make([]store.Target, 0, len(live))
	for _, c := range live {
		out = append(out, c.Target)
	}
	return out, nil
}

// resolvable drops connections whose output no longer exists.
func (r *Router) resolvable(conns []store.Connection) ([]store.Connection, error) {
	outputs, err := r.store.AllOutputs()
	if err != nil {
		return nil, err
	}
	exists := make(map[store.Target]bool, len(outputs))
	for _, o := range outputs {
		exists[store.Target{RelayID: o.RelayID, OutputID: o.OutputID}] = true
	}

	out := make([]store.Connection, 0, len(conns))
	for _, c := range conns {
		if !exists[c.Target] {
			r.logger.Warn("dangling connection ignored",
				"switch", c.SwitchID, "button", c.ButtonID, "relay", c.RelayID, "output", c.OutputID)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Router) handleHeating(m protocol.HeatingMetrics) {
	r.hub.Broadcast(hub.Heating, m)
	if r.metrics != nil {
		r.metrics.WriteHeating(m)
	}
	r.events.Emit(Event{Type: EventHeating, Data: map[string]any{
		"cold": m.Cold, "mixed": m.Mixed, "hot": m.Hot, "target": m.Target, "pid_output": m.PIDOutput,
	}})
}

func (r *Router) handleBlind(b protocol.BlindPosition) {
	r.hub.Broadcast(hub.Blinds, BlindState{Blind: b.Blind, CurrentPosition: b.Position})
	r.events.Emit(Event{Type: EventBlind, Data: map[string]any{"blind": b.Blind, "position": b.Position}})
}

func (r *Router) markOnline(id uint64, kind store.Kind) {
	if r.live.MarkOnline(id, kind, r.now()) {
		r.events.Emit(Event{Type: EventDeviceOnline, Data: map[string]any{
			"device": strconv.FormatUint(id, 10), "kind": string(kind),
		}})
		r.broadcastOnlineStatus()
	}
}

// handleOffline runs on the sweep goroutine after devices time out.
func (r *Router) handleOffline(ids []uint64) {
	for _, id := range ids {
		r.logger.Info("device offline", "device", id)
		r.events.Emit(Event{Type: EventDeviceOffline, Data: map[string]any{"device": strconv.FormatUint(id, 10)}})
	}
	r.broadcastOnlineStatus()
}

// OnlineStatus builds the current liveness projection.
func (r *Router) OnlineStatus() OnlineStatus {
	snap := r.live.Snapshot()
	msg := OnlineStatus{
		Type:            "online_status",
		OnlineRelays:    append([]uint64{}, snap.Relays...),
		OnlineSwitches:  append([]uint64{}, snap.Switches...),
		UpToDateDevices: make(map[string]bool),
		DevicesRSSI:     make(map[string]int64),
	}
	if snap.RootSeen {
		root := snap.Root
		msg.RootID = &root
	}
	r.mu.Lock()
	for id, info := range r.devices {
		key := strconv.FormatUint(id, 10)
		msg.UpToDateDevices[key] = info.upToDate
		if info.rssi != nil {
			msg.DevicesRSSI[key] = *info.rssi
		}
	}
	r.mu.Unlock()
	return msg
}

// FirmwareChanged re-evaluates every known device against the catalog and
// broadcasts online status when any up-to-date flag flipped.
func (r *Router) FirmwareChanged() {
	if r.fw == nil {
		return
	}
	changed := false
	r.mu.Lock()
	for _, info := range r.devices {
		upToDate := r.fw.UpToDate(info.kind, info.firmware)
		if upToDate != info.upToDate {
			info.upToDate = upToDate
			changed = true
		}
	}
	r.mu.Unlock()
	if changed {
		r.broadcastOnlineStatus()
	}
}

func (r *Router) broadcastOnlineStatus() {
	r.hub.Broadcast(hub.Topology, r.OnlineStatus())
}

func (r *Router) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range r.live.Snapshot().Relays {
				if err := r.Ping(id); err != nil {
					r.logger.Debug("ping failed", "relay", id, "err", err)
				}
			}
		}
	}
}

// publish sends a message, logging transport failures.
func (r *Router) publish(msg protocol.Message) error {
	if err := r.tr.Publish(msg.Topic, msg.Payload, r.cfg.QoS); err != nil {
		r.logger.Warn("publish failed", "topic", msg.Topic, "err", err)
		return &TransportError{Topic: msg.Topic, Err: err}
	}
	return nil
}

// TransportError wraps a failed publish.
type TransportError struct {
	Topic string
	Err   error
}

func (e *TransportError) Error() string { return "publish " + e.Topic + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err came from the broker link.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
