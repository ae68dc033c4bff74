// Package notify delivers fire-and-forget signals to external
// collaborators (UI, email/SMS bridges) when workflow state changes.
// Emitting an event can never fail the operation that caused it: Sink has
// no error return and implementations must not block.
package notify

// Event describes one state transition.
type Event struct {
	Type      string `json:"type"`                 // e.g. "withdrawal_approved", "timed_trade_settled"
	AccountID string `json:"account_id,omitempty"`
	RefID     string `json:"ref_id,omitempty"`     // request/trade/application id
	Amount    string `json:"amount,omitempty"`     // decimal string
	Status    string `json:"status,omitempty"`
}

// Sink receives events. Implementations: Hub (WebSocket broadcast), Nop.
type Sink interface {
	Emit(event Event)
}

// Nop discards all events. Used in tests and when no hub is configured.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(Event) {}
