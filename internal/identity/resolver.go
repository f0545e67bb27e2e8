package identity

import (
	"context"
	"strings"

	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/pkg/logging"
)

// Sender is what the pipeline knows about the origin of an inbound message.
type Sender struct {
	ConnectionID string
	Address      string
	PushName     string
	// DisclosedPhone is set when the network revealed the phone behind an opaque id.
	DisclosedPhone string
}

// Identity is the resolved counterparty.
type Identity struct {
	Kind        Kind
	Address     string
	Phone       string
	DisplayName string
}

// Resolver classifies addresses and picks a display name.
type Resolver struct {
	mappings MappingStore
	logger   *logging.Logger
}

// NewResolver creates a resolver. mappings may be nil.
func NewResolver(mappings MappingStore, logger *logging.Logger) *Resolver {
	return &Resolver{mappings: mappings, logger: logging.OrDefault(logger)}
}

// Resolve classifies sender.Address and resolves its display name through the
// transport's caches. The counterparty address is stored cleaned and
// unformatted; opaque ids stay opaque.
func (r *Resolver) Resolve(ctx context.Context, tr transport.Transport, sender Sender) Identity {
	address := CleanAddress(sender.Address)
	id := Identity{Kind: Classify(address), Address: address}

	switch id.Kind {
	case KindDirectPhone:
		id.Phone, _ = PhoneFromAddress(address)
	case KindDirectOpaque:
		id.Phone = r.opaquePhone(ctx, sender)
	}

	id.DisplayName = r.displayName(ctx, tr, id, sender.PushName)
	return id
}

// DisplayName runs only the name chain, for callers that already know the address.
func (r *Resolver) DisplayName(ctx context.Context, tr transport.Transport, address string) string {
	address = CleanAddress(address)
	id := Identity{Kind: Classify(address), Address: address}
	if id.Kind == KindDirectPhone {
		id.Phone, _ = PhoneFromAddress(address)
	}
	return r.displayName(ctx, tr, id, "")
}

func (r *Resolver) displayName(ctx context.Context, tr transport.Transport, id Identity, pushName string) string {
	if lookup, ok := tr.(transport.ContactNameLookup); ok {
		if name, found := lookup.LookupContactName(ctx, id.Address); found && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}
	if name := strings.TrimSpace(pushName); name != "" && id.Kind.IsDirect() {
		return name
	}
	if lookup, ok := tr.(transport.ChatSubjectLookup); ok {
		if subject, found := lookup.LookupChatSubject(ctx, id.Address); found && strings.TrimSpace(subject) != "" {
			return strings.TrimSpace(subject)
		}
	}
	if id.Kind == KindDirectPhone && id.Phone != "" {
		if checker, ok := tr.(transport.NumberChecker); ok {
			onNetwork, err := checker.IsOnNetwork(ctx, id.Phone)
			if err != nil {
				r.logger.Debug("identity: existence check failed", "error", err)
			} else if onNetwork {
				return FormatPhone(id.Phone)
			}
		}
	}
	// The cleaned address keeps its marker, so an opaque id never reads as a phone.
	return id.Address
}

func (r *Resolver) opaquePhone(ctx context.Context, sender Sender) string {
	if disclosed := DigitsOnly(UserPart(sender.DisclosedPhone)); isPhoneDigits(disclosed) {
		if r.mappings != nil {
			if err := r.mappings.RecordPhone(ctx, sender.ConnectionID, sender.Address, disclosed); err != nil {
				r.logger.Warn("identity: failed to record opaque mapping", "connection_id", sender.ConnectionID, "error", err)
			}
		}
		return disclosed
	}
	if r.mappings == nil {
		return ""
	}
	phone, ok, err := r.mappings.PhoneFor(ctx, sender.ConnectionID, sender.Address)
	if err != nil {
		r.logger.Warn("identity: failed to load opaque mapping", "connection_id", sender.ConnectionID, "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return phone
}
