package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wolfman30/chatlink/pkg/logging"
)

// frame is the JSON envelope exchanged with the protocol sidecar.
type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	OK        bool            `json:"ok,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type connectCommand struct {
	Session string `json:"session"`
}

type connectReply struct {
	Status   Status `json:"status"`
	Artifact string `json:"artifact,omitempty"`
	Self     Self   `json:"self"`
}

type sendCommand struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type lookupCommand struct {
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type lookupReply struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

type messageFrame struct {
	Key         MessageKey `json:"key"`
	PushName    string     `json:"push_name,omitempty"`
	Content     Content    `json:"content"`
	Timestamp   int64      `json:"timestamp"`
	SenderPhone string     `json:"sender_phone,omitempty"`
}

type stateFrame struct {
	Artifact    string `json:"artifact,omitempty"`
	Self        Self   `json:"self"`
	Recoverable bool   `json:"recoverable"`
	Reason      string `json:"reason,omitempty"`
}

// SidecarConfig configures SidecarFactory.
type SidecarConfig struct {
	BaseURL        string
	Header         http.Header
	RequestTimeout time.Duration
	Dialer         *websocket.Dialer
	Logger         *logging.Logger
}

// SidecarFactory builds transports that speak to a protocol sidecar over websockets.
type SidecarFactory struct {
	cfg SidecarConfig
}

// NewSidecarFactory validates cfg and returns a factory.
func NewSidecarFactory(cfg SidecarConfig) (*SidecarFactory, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("transport: sidecar base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("transport: parse sidecar url: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	cfg.Logger = logging.OrDefault(cfg.Logger)
	return &SidecarFactory{cfg: cfg}, nil
}

// New implements Factory.
func (f *SidecarFactory) New(instanceID, sessionLocation string) (Transport, error) {
	endpoint := strings.TrimRight(f.cfg.BaseURL, "/") + "/sessions/" + url.PathEscape(instanceID)
	return &SidecarTransport{
		endpoint: endpoint,
		location: sessionLocation,
		cfg:      f.cfg,
		logger:   f.cfg.Logger.With("instance_id", instanceID),
		status:   StatusDisconnected,
		pending:  make(map[string]chan frame),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}, nil
}

// SidecarTransport is one websocket session to the sidecar.
type SidecarTransport struct {
	endpoint string
	location string
	cfg      SidecarConfig
	logger   *logging.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	status  Status
	self    Self
	pending map[string]chan frame

	writeMu   sync.Mutex
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}
}

var _ Transport = (*SidecarTransport)(nil)
var _ ContactNameLookup = (*SidecarTransport)(nil)
var _ ChatSubjectLookup = (*SidecarTransport)(nil)
var _ NumberChecker = (*SidecarTransport)(nil)

// Connect dials the sidecar (once) and asks it to open the session.
func (t *SidecarTransport) Connect(ctx context.Context) (ConnectResult, error) {
	if err := t.dial(ctx); err != nil {
		return ConnectResult{}, err
	}
	var reply connectReply
	if err := t.request(ctx, "connect", connectCommand{Session: t.location}, &reply); err != nil {
		return ConnectResult{}, err
	}
	t.mu.Lock()
	if reply.Status == "" {
		reply.Status = StatusPairing
	}
	t.status = reply.Status
	if reply.Status == StatusConnected {
		t.self = reply.Self
	}
	t.mu.Unlock()
	return ConnectResult{Status: reply.Status, PairingArtifact: reply.Artifact, Self: reply.Self}, nil
}

func (t *SidecarTransport) dial(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	if t.conn != nil {
		return nil
	}
	if t.readDone != nil {
		return fmt.Errorf("transport: sidecar session lost, build a new transport: %w", ErrClosed)
	}
	conn, resp, err := t.cfg.Dialer.DialContext(ctx, t.endpoint, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("transport: dial sidecar: %w", err)
	}
	t.conn = conn
	t.readDone = make(chan struct{})
	go t.readLoop(conn, t.readDone)
	return nil
}

// Status implements Transport.
func (t *SidecarTransport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Self implements Transport.
func (t *SidecarTransport) Self() Self {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self
}

// Send implements Transport.
func (t *SidecarTransport) Send(ctx context.Context, address string, content OutboundContent) (SendResult, error) {
	var res SendResult
	if err := t.request(ctx, "send", sendCommand{To: address, Text: content.Text}, &res); err != nil {
		return SendResult{}, err
	}
	return res, nil
}

// Events implements Transport.
func (t *SidecarTransport) Events() <-chan Event {
	return t.events
}

// Logout implements Transport.
func (t *SidecarTransport) Logout(ctx context.Context) error {
	err := t.request(ctx, "logout", struct{}{}, nil)
	t.mu.Lock()
	t.status = StatusDisconnected
	t.mu.Unlock()
	return err
}

// Close implements Transport.
func (t *SidecarTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		conn := t.conn
		readDone := t.readDone
		t.status = StatusDisconnected
		t.mu.Unlock()
		if readDone == nil {
			close(t.events)
			return
		}
		if conn == nil {
			<-readDone
			return
		}
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = conn.Close()
		<-readDone
	})
	return err
}

// LookupContactName implements ContactNameLookup.
func (t *SidecarTransport) LookupContactName(ctx context.Context, address string) (string, bool) {
	return t.lookup(ctx, "lookup_contact", lookupCommand{Address: address})
}

// LookupChatSubject implements ChatSubjectLookup.
func (t *SidecarTransport) LookupChatSubject(ctx context.Context, address string) (string, bool) {
	return t.lookup(ctx, "lookup_chat", lookupCommand{Address: address})
}

// IsOnNetwork implements NumberChecker.
func (t *SidecarTransport) IsOnNetwork(ctx context.Context, phone string) (bool, error) {
	var reply lookupReply
	if err := t.request(ctx, "check_number", lookupCommand{Phone: phone}, &reply); err != nil {
		return false, err
	}
	return reply.Found, nil
}

func (t *SidecarTransport) lookup(ctx context.Context, kind string, cmd lookupCommand) (string, bool) {
	var reply lookupReply
	if err := t.request(ctx, kind, cmd, &reply); err != nil {
		t.logger.Debug("sidecar lookup failed", "kind", kind, "error", err)
		return "", false
	}
	return reply.Value, reply.Found && reply.Value != ""
}

func (t *SidecarTransport) request(ctx context.Context, kind string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", kind, err)
	}
	reqID := uuid.NewString()
	replyCh := make(chan frame, 1)

	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return fmt.Errorf("transport: %s: not dialed", kind)
	}
	t.pending[reqID] = replyCh
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, reqID)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	err = conn.WriteJSON(frame{Type: kind, RequestID: reqID, Data: data})
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("transport: write %s: %w", kind, err)
	}

	timer := time.NewTimer(t.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("transport: %s: timed out after %s", kind, t.cfg.RequestTimeout)
	case <-t.done:
		return ErrClosed
	case resp, ok := <-replyCh:
		if !ok {
			return fmt.Errorf("transport: %s: connection lost", kind)
		}
		if !resp.OK {
			msg := resp.Error
			if msg == "" {
				msg = "request rejected"
			}
			return fmt.Errorf("transport: %s: %s", kind, msg)
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("transport: decode %s reply: %w", kind, err)
			}
		}
		return nil
	}
}

func (t *SidecarTransport) readLoop(conn *websocket.Conn, readDone chan struct{}) {
	defer close(readDone)
	defer close(t.events)
	defer t.failPending()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("sidecar read error", "error", err)
			}
			t.mu.Lock()
			t.status = StatusDisconnected
			t.conn = nil
			t.mu.Unlock()
			t.emit(Event{Type: EventDisconnected, Recoverable: true, Reason: err.Error()})
			return
		}
		if f.Type == "response" {
			t.mu.Lock()
			ch, ok := t.pending[f.RequestID]
			t.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}
		evt, ok := t.decodeEvent(f)
		if !ok {
			t.logger.Debug("sidecar frame ignored", "type", f.Type)
			continue
		}
		t.emit(evt)
	}
}

func (t *SidecarTransport) decodeEvent(f frame) (Event, bool) {
	switch f.Type {
	case "message":
		var m messageFrame
		if err := json.Unmarshal(f.Data, &m); err != nil {
			t.logger.Warn("sidecar message frame invalid", "error", err)
			return Event{}, false
		}
		ts := time.Now().UTC()
		if m.Timestamp > 0 {
			ts = time.Unix(m.Timestamp, 0).UTC()
		}
		return Event{
			Type:        EventMessage,
			Key:         m.Key,
			PushName:    m.PushName,
			Content:     m.Content,
			Timestamp:   ts,
			SenderPhone: m.SenderPhone,
		}, true
	case "qr", "connected", "disconnected", "error":
		var s stateFrame
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &s); err != nil {
				t.logger.Warn("sidecar state frame invalid", "type", f.Type, "error", err)
				return Event{}, false
			}
		}
		switch f.Type {
		case "qr":
			return Event{Type: EventPairing, PairingArtifact: s.Artifact}, true
		case "connected":
			t.mu.Lock()
			t.status = StatusConnected
			t.self = s.Self
			t.mu.Unlock()
			return Event{Type: EventConnected, Self: s.Self}, true
		case "disconnected":
			t.mu.Lock()
			t.status = StatusDisconnected
			t.mu.Unlock()
			return Event{Type: EventDisconnected, Recoverable: s.Recoverable, Reason: s.Reason}, true
		default:
			return Event{Type: EventError, Err: errors.New(firstNonEmpty(f.Error, s.Reason, "sidecar error"))}, true
		}
	default:
		return Event{}, false
	}
}

func (t *SidecarTransport) emit(evt Event) {
	select {
	case t.events <- evt:
	case <-t.done:
	}
}

func (t *SidecarTransport) failPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
