package automation

import "context"

// ThreadSignal identifies the thread and the message that triggered a signal.
type ThreadSignal struct {
	ConnectionID        string
	CounterpartyAddress string
	CounterpartyName    string
	MessageID           string
	Text                string
	MatchedTerms        []string
}

// ThreadState is the collaborator that owns per-thread handling state.
type ThreadState interface {
	// AutomationAllowed reports whether the thread may still be auto-replied.
	AutomationAllowed(ctx context.Context, connectionID, counterpartyAddress string) (bool, error)
	// RequireHuman flags the thread for human handling and disables automation for it.
	RequireHuman(ctx context.Context, sig ThreadSignal) error
	MarkResolved(ctx context.Context, sig ThreadSignal) error
}
