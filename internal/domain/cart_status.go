package domain

// CartStatus is the lifecycle state of a user's cart.
type CartStatus string

const (
	CartStatusOpen            CartStatus = "OPEN"
	CartStatusPendingCheckout CartStatus = "PENDING_CHECKOUT"
	CartStatusCompleted       CartStatus = "COMPLETED"
	CartStatusAbandoned       CartStatus = "ABANDONED"
)

func (s CartStatus) IsTerminal() bool {
	return s == CartStatusCompleted || s == CartStatusAbandoned
}

// String representation (for logging)
func (s CartStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether a cart in state from may move to state to.
// A terminal cart never transitions; it is replaced by a fresh Open cart.
func CanTransitionTo(from, to CartStatus) bool {
	switch from {
	case CartStatusOpen:
		return to == CartStatusPendingCheckout
	case CartStatusPendingCheckout:
		return to == CartStatusCompleted || to == CartStatusAbandoned
	case CartStatusCompleted, CartStatusAbandoned:
		return false
	default:
		return false
	}
}

// SessionStatus is the state of a checkout session.
type SessionStatus string

const (
	SessionStatusPending      SessionStatus = "PENDING"
	SessionStatusCompleted    SessionStatus = "COMPLETED"
	SessionStatusAbandoned    SessionStatus = "ABANDONED"
	SessionStatusManualReview SessionStatus = "MANUAL_REVIEW"
)

func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusAbandoned, SessionStatusManualReview:
		return true
	case SessionStatusPending:
		return false
	default:
		return false
	}
}

func (s SessionStatus) String() string {
	return string(s)
}

// AbandonReason records why a session left PENDING without payment.
type AbandonReason string

const (
	AbandonReasonNone       AbandonReason = ""
	AbandonReasonExpired    AbandonReason = "EXPIRED"
	AbandonReasonCancelled  AbandonReason = "CANCELLED"
	AbandonReasonSuperseded AbandonReason = "SUPERSEDED"
)

// RestoresLines reports whether the abandoned cart's lines carry over into the next cart.
func (r AbandonReason) RestoresLines() bool {
	switch r {
	case AbandonReasonExpired, AbandonReasonCancelled:
		return true
	case AbandonReasonSuperseded, AbandonReasonNone:
		return false
	default:
		return false
	}
}
