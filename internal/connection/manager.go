package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/chatlink/internal/events"
	"github.com/wolfman30/chatlink/internal/observability/metrics"
	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/pkg/logging"
	"golang.org/x/sync/singleflight"
)

// InboundSink consumes message events from an instance's ordered stream.
type InboundSink interface {
	HandleInbound(ctx context.Context, instanceID string, tr transport.Transport, evt transport.Event)
}

// InboundSinkFunc adapts a function to InboundSink.
type InboundSinkFunc func(ctx context.Context, instanceID string, tr transport.Transport, evt transport.Event)

func (f InboundSinkFunc) HandleInbound(ctx context.Context, instanceID string, tr transport.Transport, evt transport.Event) {
	f(ctx, instanceID, tr, evt)
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Repository       Repository
	Sessions         SessionStore
	Factory          transport.Factory
	Publisher        events.Publisher
	Metrics          *metrics.ConnectionMetrics
	Logger           *logging.Logger
	ReconnectBackoff time.Duration
	ConnectTimeout   time.Duration
}

// handle is the live, in-memory side of an instance.
type handle struct {
	instanceID string
	tr         transport.Transport
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	// guarded by Manager.mu
	reconnectTimer *time.Timer
}

// Manager drives the connection state machine for every instance it owns. It is the
// only writer of Instance records and the only holder of transport handles.
type Manager struct {
	repo      Repository
	sessions  SessionStore
	factory   transport.Factory
	publisher events.Publisher
	metrics   *metrics.ConnectionMetrics
	logger    *logging.Logger
	backoff   time.Duration
	timeout   time.Duration

	group singleflight.Group

	mu      sync.Mutex
	sink    InboundSink
	handles map[string]*handle
	epochs  map[string]uint64
	closed  bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Repository == nil {
		return nil, errors.New("connection: repository required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("connection: session store required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("connection: transport factory required")
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:       cfg.Repository,
		sessions:   cfg.Sessions,
		factory:    cfg.Factory,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     logging.OrDefault(cfg.Logger).Component("connection"),
		backoff:    cfg.ReconnectBackoff,
		timeout:    cfg.ConnectTimeout,
		handles:    make(map[string]*handle),
		epochs:     make(map[string]uint64),
		baseCtx:    ctx,
		baseCancel: cancel,
	}, nil
}

// SetInboundSink installs the consumer for message events. It must be called before
// any instance connects.
func (m *Manager) SetInboundSink(sink InboundSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Create registers a new instance and starts its first connect. Concurrent calls for
// the same id share one attempt; later calls fail with ErrDuplicateInstance.
func (m *Manager) Create(ctx context.Context, instanceID, displayName, phone string) (Instance, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return Instance{}, errors.New("connection: instance id required")
	}
	v, err, _ := m.group.Do("create:"+instanceID, func() (any, error) {
		if strings.TrimSpace(displayName) == "" {
			displayName = instanceID
		}
		if _, err := m.repo.Create(ctx, Instance{
			InstanceID:  instanceID,
			DisplayName: displayName,
			PhoneNumber: phone,
			Status:      StatusDisconnected,
		}); err != nil {
			return Instance{}, err
		}
		m.logger.Info("connection instance created", "instance_id", instanceID)
		return m.connect(instanceID, "create")
	})
	if err != nil {
		return Instance{}, err
	}
	return v.(Instance), nil
}

// Connect requests a connect for an existing instance.
func (m *Manager) Connect(ctx context.Context, instanceID string) (Instance, error) {
	if _, err := m.repo.Get(ctx, instanceID); err != nil {
		return Instance{}, err
	}
	return m.connect(instanceID, "request")
}

// GetStatus returns the current snapshot. When no handle is held but the instance
// had a session, the transport is re-established first.
func (m *Manager) GetStatus(ctx context.Context, instanceID string) (Instance, error) {
	inst, err := m.repo.Get(ctx, instanceID)
	if err != nil {
		return Instance{}, err
	}
	if m.handleFor(instanceID) != nil || !m.hadSession(ctx, inst) {
		return inst, nil
	}
	m.metrics.ObserveReconnect("lazy")
	if _, err := m.connect(instanceID, "lazy"); err != nil {
		m.logger.Warn("lazy reconnect failed", "instance_id", instanceID, "error", err)
	}
	return m.repo.Get(ctx, instanceID)
}

// List returns every persisted instance.
func (m *Manager) List(ctx context.Context) ([]Instance, error) {
	return m.repo.List(ctx)
}

// SetAutomation toggles auto-replies for an instance.
func (m *Manager) SetAutomation(ctx context.Context, instanceID string, enabled bool) (Instance, error) {
	if err := m.repo.SetAutomation(ctx, instanceID, enabled); err != nil {
		return Instance{}, err
	}
	m.logger.Info("automation toggled", "instance_id", instanceID, "enabled", enabled)
	return m.repo.Get(ctx, instanceID)
}

// Transport returns the live transport when the instance is connected.
func (m *Manager) Transport(instanceID string) (transport.Transport, bool) {
	h := m.handleFor(instanceID)
	if h == nil {
		return nil, false
	}
	return h.tr, true
}

// RecordActivity bumps the instance counters.
func (m *Manager) RecordActivity(ctx context.Context, instanceID string, inbound bool, at time.Time) error {
	return m.repo.RecordActivity(ctx, instanceID, inbound, at)
}

// Instance reads the persisted record without side effects.
func (m *Manager) Instance(ctx context.Context, instanceID string) (Instance, error) {
	return m.repo.Get(ctx, instanceID)
}

// Logout revokes the session, wipes its material and leaves the instance Disconnected.
// The next connect starts a fresh pairing.
func (m *Manager) Logout(ctx context.Context, instanceID string) (Instance, error) {
	if _, err := m.repo.Get(ctx, instanceID); err != nil {
		return Instance{}, err
	}
	m.bumpEpoch(instanceID)
	m.teardown(ctx, m.takeHandle(instanceID), true, true)
	if err := m.sessions.Wipe(ctx, instanceID); err != nil {
		m.logger.Error("session wipe failed", "instance_id", instanceID, "error", err)
	}
	if err := m.transition(ctx, instanceID, StateUpdate{Status: StatusDisconnected, Reason: "logout"}); err != nil {
		return Instance{}, err
	}
	return m.repo.Get(ctx, instanceID)
}

// Delete tears the transport down, wipes session material and removes the record.
// Deleting an unknown instance is not an error.
func (m *Manager) Delete(ctx context.Context, instanceID string) error {
	_, err := m.repo.Get(ctx, instanceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	existed := err == nil

	m.bumpEpoch(instanceID)
	m.teardown(ctx, m.takeHandle(instanceID), true, true)

	if err := m.sessions.Wipe(ctx, instanceID); err != nil {
		return fmt.Errorf("connection: delete %s: %w", instanceID, err)
	}
	if err := m.repo.Delete(ctx, instanceID); err != nil {
		return err
	}
	if existed {
		m.publish(ctx, events.ConnectionStateChangedV1{
			InstanceID: instanceID,
			Status:     string(StatusDisconnected),
			Reason:     "deleted",
			ChangedAt:  time.Now().UTC(),
		})
	}
	m.logger.Info("connection instance deleted", "instance_id", instanceID)
	return nil
}

// Restore reconnects every instance that had a session before the restart.
func (m *Manager) Restore(ctx context.Context) error {
	instances, err := m.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if !m.hadSession(ctx, inst) {
			continue
		}
		m.metrics.ObserveReconnect("restore")
		if _, err := m.connect(inst.InstanceID, "restore"); err != nil {
			m.logger.Warn("restore failed", "instance_id", inst.InstanceID, "error", err)
		}
	}
	return nil
}

// Shutdown closes every handle without wiping sessions so Restore can resume them.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	handles := make([]*handle, 0, len(m.handles))
	for id, h := range m.handles {
		handles = append(handles, h)
		delete(m.handles, id)
	}
	m.mu.Unlock()
	m.baseCancel()
	for _, h := range handles {
		m.teardown(ctx, h, false, true)
	}
	m.metrics.SetLiveHandles(0)
}

// hadSession is true when the record claims a live session, or when a recoverable
// drop left it Disconnected with session material still stored. Logout and remote
// logout wipe the material, so those stay Disconnected.
func (m *Manager) hadSession(ctx context.Context, inst Instance) bool {
	if inst.ClaimsLiveSession() {
		return true
	}
	if inst.Status != StatusDisconnected {
		return false
	}
	exists, err := m.sessions.Exists(ctx, inst.InstanceID)
	if err != nil {
		m.logger.Warn("session lookup failed", "instance_id", inst.InstanceID, "error", err)
		return false
	}
	return exists
}

func (m *Manager) connect(instanceID, trigger string) (Instance, error) {
	v, err, _ := m.group.Do("connect:"+instanceID, func() (any, error) {
		return m.doConnect(instanceID, trigger)
	})
	if err != nil {
		return Instance{}, err
	}
	return v.(Instance), nil
}

func (m *Manager) doConnect(instanceID, trigger string) (Instance, error) {
	ctx, cancel := context.WithTimeout(m.baseCtx, m.timeout)
	defer cancel()

	// Read before the record so a Delete or Logout racing this attempt is always seen.
	epoch := m.currentEpoch(instanceID)
	inst, err := m.repo.Get(ctx, instanceID)
	if err != nil {
		return Instance{}, err
	}
	if h := m.handleFor(instanceID); h != nil && !m.reconnectPending(h) && h.tr.Status() != transport.StatusDisconnected {
		return inst, nil
	}

	if err := m.transition(ctx, instanceID, StateUpdate{Status: StatusConnecting, Reason: trigger}); err != nil {
		return Instance{}, err
	}
	m.teardown(ctx, m.takeHandle(instanceID), false, true)

	tr, err := m.factory.New(instanceID, m.sessions.Location(instanceID))
	if err != nil {
		return m.fail(ctx, instanceID, err)
	}
	h, err := m.install(instanceID, tr, epoch)
	if err != nil {
		_ = tr.Close()
		return Instance{}, err
	}

	res, err := tr.Connect(ctx)
	if m.currentEpoch(instanceID) != epoch {
		m.teardown(ctx, m.takeHandleIf(instanceID, h), false, true)
		return Instance{}, ErrNotFound
	}
	if err != nil {
		m.teardown(ctx, m.takeHandleIf(instanceID, h), false, true)
		return m.fail(ctx, instanceID, err)
	}

	upd := StateUpdate{Status: StatusConnecting, PairingArtifact: res.PairingArtifact, Reason: "pairing"}
	if res.Status == transport.StatusConnected {
		upd = StateUpdate{Status: StatusConnected, PhoneNumber: res.Self.Phone, Reason: trigger}
	}
	if err := m.transition(ctx, instanceID, upd); err != nil {
		m.teardown(ctx, m.takeHandleIf(instanceID, h), false, true)
		return Instance{}, err
	}
	return m.repo.Get(ctx, instanceID)
}

func (m *Manager) fail(ctx context.Context, instanceID string, cause error) (Instance, error) {
	m.logger.Error("transport connect failed", "instance_id", instanceID, "error", cause)
	if err := m.transition(ctx, instanceID, StateUpdate{Status: StatusError, Reason: cause.Error()}); err != nil {
		m.logger.Error("failed to record error state", "instance_id", instanceID, "error", err)
	}
	return Instance{}, fmt.Errorf("%w: %v", ErrTransport, cause)
}

// install registers the handle and starts its consumer, unless the instance was
// deleted or logged out since the connect began.
func (m *Manager) install(instanceID string, tr transport.Transport, epoch uint64) (*handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("connection: manager shut down")
	}
	if m.epochs[instanceID] != epoch {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	h := &handle{
		instanceID: instanceID,
		tr:         tr,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.handles[instanceID] = h
	m.metrics.SetLiveHandles(len(m.handles))
	go m.consume(h)
	return h, nil
}

// consume is the single ordered reader of an instance's events.
func (m *Manager) consume(h *handle) {
	defer close(h.done)
	events := h.tr.Events()
	for {
		select {
		case <-h.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(h, evt)
		}
	}
}

func (m *Manager) handleEvent(h *handle, evt transport.Event) {
	ctx := h.ctx
	switch evt.Type {
	case transport.EventMessage:
		m.mu.Lock()
		sink := m.sink
		m.mu.Unlock()
		if sink != nil {
			sink.HandleInbound(ctx, h.instanceID, h.tr, evt)
		}
	case transport.EventPairing:
		m.logTransitionErr(h, m.transition(ctx, h.instanceID, StateUpdate{Status: StatusConnecting, PairingArtifact: evt.PairingArtifact, Reason: "pairing refreshed"}))
	case transport.EventConnected:
		m.logTransitionErr(h, m.transition(ctx, h.instanceID, StateUpdate{Status: StatusConnected, PhoneNumber: evt.Self.Phone, Reason: "paired"}))
	case transport.EventDisconnected:
		if evt.Recoverable {
			m.logTransitionErr(h, m.transition(ctx, h.instanceID, StateUpdate{Status: StatusDisconnected, Reason: evt.Reason}))
			m.scheduleReconnect(h)
			return
		}
		m.logger.Warn("session revoked by network", "instance_id", h.instanceID, "reason", evt.Reason)
		if err := m.sessions.Wipe(ctx, h.instanceID); err != nil {
			m.logger.Error("session wipe failed", "instance_id", h.instanceID, "error", err)
		}
		m.logTransitionErr(h, m.transition(ctx, h.instanceID, StateUpdate{Status: StatusDisconnected, Reason: evt.Reason}))
		// Called from the consumer itself, so it must not wait on h.done.
		m.teardown(ctx, m.takeHandleIf(h.instanceID, h), false, false)
	case transport.EventError:
		reason := "transport error"
		if evt.Err != nil {
			reason = evt.Err.Error()
		}
		m.logTransitionErr(h, m.transition(ctx, h.instanceID, StateUpdate{Status: StatusError, Reason: reason}))
	}
}

func (m *Manager) logTransitionErr(h *handle, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("failed to record transition", "instance_id", h.instanceID, "error", err)
	}
}

// scheduleReconnect arms a single timer per handle.
func (m *Manager) scheduleReconnect(h *handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.reconnectTimer != nil || h.ctx.Err() != nil || m.handles[h.instanceID] != h {
		return
	}
	m.logger.Info("reconnect scheduled", "instance_id", h.instanceID, "backoff", m.backoff.String())
	h.reconnectTimer = time.AfterFunc(m.backoff, func() {
		if h.ctx.Err() != nil {
			return
		}
		m.metrics.ObserveReconnect("backoff")
		if _, err := m.connect(h.instanceID, "reconnect"); err != nil {
			m.logger.Warn("reconnect failed", "instance_id", h.instanceID, "error", err)
		}
	})
}

func (m *Manager) reconnectPending(h *handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return h.reconnectTimer != nil
}

// transition persists a state change and emits ConnectionStateChanged.
func (m *Manager) transition(ctx context.Context, instanceID string, upd StateUpdate) error {
	previous, err := m.repo.UpdateState(ctx, instanceID, upd)
	if err != nil {
		return err
	}
	m.metrics.ObserveTransition(string(upd.Status))
	m.logger.Info("connection state changed",
		"instance_id", instanceID,
		"from", string(previous),
		"to", string(upd.Status),
		"reason", upd.Reason,
	)
	m.publish(ctx, events.ConnectionStateChangedV1{
		InstanceID:      instanceID,
		Status:          string(upd.Status),
		PreviousStatus:  string(previous),
		PhoneNumber:     upd.PhoneNumber,
		PairingArtifact: upd.PairingArtifact,
		Reason:          upd.Reason,
		ChangedAt:       time.Now().UTC(),
	})
	return nil
}

func (m *Manager) publish(ctx context.Context, evt events.DomainEvent) {
	if m.publisher != nil {
		m.publisher.Publish(ctx, evt)
	}
}

func (m *Manager) handleFor(instanceID string) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[instanceID]
}

func (m *Manager) takeHandle(instanceID string) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.handles[instanceID]
	delete(m.handles, instanceID)
	m.metrics.SetLiveHandles(len(m.handles))
	return h
}

func (m *Manager) takeHandleIf(instanceID string, want *handle) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handles[instanceID] != want {
		return nil
	}
	delete(m.handles, instanceID)
	m.metrics.SetLiveHandles(len(m.handles))
	return want
}

func (m *Manager) currentEpoch(instanceID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochs[instanceID]
}

func (m *Manager) bumpEpoch(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochs[instanceID]++
}

// teardown stops a handle: cancels its reconnect timer and consumer, optionally
// revokes the session on the network, and closes the transport.
func (m *Manager) teardown(ctx context.Context, h *handle, logout, wait bool) {
	if h == nil {
		return
	}
	m.mu.Lock()
	if h.reconnectTimer != nil {
		h.reconnectTimer.Stop()
	}
	m.mu.Unlock()
	h.cancel()
	if logout {
		if err := h.tr.Logout(ctx); err != nil {
			m.logger.Warn("transport logout failed", "instance_id", h.instanceID, "error", err)
		}
	}
	if err := h.tr.Close(); err != nil {
		m.logger.Warn("transport close failed", "instance_id", h.instanceID, "error", err)
	}
	if wait {
		<-h.done
	}
}
