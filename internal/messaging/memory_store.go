package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository for tests and local tooling.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]Message
	byKey    map[string]uuid.UUID
	seq      int64
	order    map[uuid.UUID]int64

	// FailInserts makes every insert return this error when set.
	FailInserts error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[uuid.UUID]Message),
		byKey:    make(map[string]uuid.UUID),
		order:    make(map[uuid.UUID]int64),
	}
}

func protocolKey(connectionID, protocolMessageID string) string {
	return connectionID + "\x00" + protocolMessageID
}

func (s *MemoryStore) Exists(_ context.Context, connectionID, protocolMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byKey[protocolKey(connectionID, protocolMessageID)]
	return ok, nil
}

func (s *MemoryStore) InsertInbound(_ context.Context, msg Message) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts != nil {
		return Message{}, false, s.FailInserts
	}
	key := protocolKey(msg.ConnectionID, msg.ProtocolMessageID)
	if _, ok := s.byKey[key]; ok {
		return Message{}, false, nil
	}
	msg.Direction = DirectionInbound
	s.insertLocked(&msg)
	s.byKey[key] = msg.ID
	return msg, true, nil
}

func (s *MemoryStore) InsertPending(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts != nil {
		return Message{}, s.FailInserts
	}
	msg.Direction = DirectionOutbound
	msg.Status = StatusPending
	s.insertLocked(&msg)
	return msg, nil
}

func (s *MemoryStore) insertLocked(msg *Message) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.seq++
	s.order[msg.ID] = s.seq
	s.messages[msg.ID] = *msg
}

func (s *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, protocolMessageID string, at time.Time) error {
	return s.update(id, func(m *Message) error {
		key := protocolKey(m.ConnectionID, protocolMessageID)
		if _, taken := s.byKey[key]; taken {
			return fmt.Errorf("messaging: protocol id %s already stored", protocolMessageID)
		}
		m.Status = StatusSent
		m.ProtocolMessageID = protocolMessageID
		m.Timestamp = at
		s.byKey[key] = m.ID
		return nil
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return s.update(id, func(m *Message) error {
		m.Status = StatusFailed
		m.FailureReason = reason
		return nil
	})
}

func (s *MemoryStore) MarkAutoReplied(_ context.Context, id, replyID uuid.UUID) error {
	return s.update(id, func(m *Message) error {
		m.AutoReplied = true
		reply := replyID
		m.ReplyMessageID = &reply
		return nil
	})
}

func (s *MemoryStore) update(id uuid.UUID, fn func(*Message) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&m); err != nil {
		return err
	}
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) ListConversation(_ context.Context, connectionID, counterparty string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.ConnectionID == connectionID && m.CounterpartyAddress == counterparty {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// All returns every stored message in insertion order.
func (s *MemoryStore) All() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out
}

var _ Repository = (*MemoryStore)(nil)
