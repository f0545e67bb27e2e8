package identity

import (
	"context"
	"testing"

	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/internal/transport/memtransport"
)

type mapStore struct {
	phones   map[string]string
	recorded int
}

func (m *mapStore) PhoneFor(_ context.Context, _, opaqueID string) (string, bool, error) {
	p, ok := m.phones[UserPart(opaqueID)]
	return p, ok, nil
}

func (m *mapStore) RecordPhone(_ context.Context, _, opaqueID, phone string) error {
	if m.phones == nil {
		m.phones = map[string]string{}
	}
	m.phones[UserPart(opaqueID)] = phone
	m.recorded++
	return nil
}

func newTransport(t *testing.T, net *memtransport.Network) transport.Transport {
	t.Helper()
	tr, err := net.New("acct-1", "loc")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	return tr
}

func TestResolveNameChainOrder(t *testing.T) {
	ctx := context.Background()
	const addr = "5511988887777@s.whatsapp.net"

	t.Run("contact cache wins", func(t *testing.T) {
		net := memtransport.NewNetwork()
		net.SetContactName(addr, "Ana Souza")
		net.SetChatSubject(addr, "Subject")
		net.RegisterNumber("5511988887777")
		id := NewResolver(nil, nil).Resolve(ctx, newTransport(t, net), Sender{Address: addr, PushName: "ana"})
		if id.DisplayName != "Ana Souza" {
			t.Fatalf("expected contact name, got %q", id.DisplayName)
		}
	})

	t.Run("push name before chat subject", func(t *testing.T) {
		net := memtransport.NewNetwork()
		net.SetChatSubject(addr, "Subject")
		id := NewResolver(nil, nil).Resolve(ctx, newTransport(t, net), Sender{Address: addr, PushName: " Ana "})
		if id.DisplayName != "Ana" {
			t.Fatalf("expected push name, got %q", id.DisplayName)
		}
	})

	t.Run("chat subject", func(t *testing.T) {
		net := memtransport.NewNetwork()
		net.SetChatSubject(addr, "Subject")
		net.RegisterNumber("5511988887777")
		id := NewResolver(nil, nil).Resolve(ctx, newTransport(t, net), Sender{Address: addr})
		if id.DisplayName != "Subject" {
			t.Fatalf("expected subject, got %q", id.DisplayName)
		}
	})

	t.Run("formatted phone when on network", func(t *testing.T) {
		net := memtransport.NewNetwork()
		net.RegisterNumber("5511988887777")
		id := NewResolver(nil, nil).Resolve(ctx, newTransport(t, net), Sender{Address: addr})
		if id.DisplayName != "+55 (11) 98888-7777" {
			t.Fatalf("expected formatted phone, got %q", id.DisplayName)
		}
		if id.Address != addr || id.Phone != "5511988887777" {
			t.Fatalf("stored address must stay unformatted: %+v", id)
		}
	})

	t.Run("raw address last", func(t *testing.T) {
		net := memtransport.NewNetwork()
		id := NewResolver(nil, nil).Resolve(ctx, newTransport(t, net), Sender{Address: addr})
		if id.DisplayName != addr {
			t.Fatalf("expected raw cleaned address, got %q", id.DisplayName)
		}
	})
}

func TestResolveOpaqueNeverFabricatesPhone(t *testing.T) {
	ctx := context.Background()
	net := memtransport.NewNetwork()
	store := &mapStore{}
	r := NewResolver(store, nil)

	id := r.Resolve(ctx, newTransport(t, net), Sender{ConnectionID: "acct-1", Address: "204875123456789@lid"})
	if id.Kind != KindDirectOpaque {
		t.Fatalf("expected opaque kind, got %s", id.Kind)
	}
	if id.Phone != "" {
		t.Fatalf("opaque id must not produce a phone, got %q", id.Phone)
	}
	if id.Address != "204875123456789@lid" || id.DisplayName != "204875123456789@lid" {
		t.Fatalf("unexpected identity %+v", id)
	}

	id = r.Resolve(ctx, newTransport(t, net), Sender{
		ConnectionID:   "acct-1",
		Address:        "204875123456789@lid",
		DisclosedPhone: "5511988887777@s.whatsapp.net",
	})
	if id.Phone != "5511988887777" || store.recorded != 1 {
		t.Fatalf("expected disclosed phone to be recorded: %+v recorded=%d", id, store.recorded)
	}
	if id.Address != "204875123456789@lid" {
		t.Fatalf("opaque counterparty address must be preserved, got %q", id.Address)
	}

	id = r.Resolve(ctx, newTransport(t, net), Sender{ConnectionID: "acct-1", Address: "204875123456789@lid"})
	if id.Phone != "5511988887777" {
		t.Fatalf("expected mapped phone on later message, got %q", id.Phone)
	}
}

func TestResolveGroupIgnoresPushName(t *testing.T) {
	net := memtransport.NewNetwork()
	net.SetChatSubject("120363025246125888@g.us", "Sales Team")
	id := NewResolver(nil, nil).Resolve(context.Background(), newTransport(t, net), Sender{
		Address:  "120363025246125888@g.us",
		PushName: "Participant",
	})
	if id.Kind != KindGroup || id.DisplayName != "Sales Team" {
		t.Fatalf("unexpected group identity %+v", id)
	}
}
