package report

// Status is the workflow state of a report.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusReceived        Status = "RECEIVED"
	StatusInReview        Status = "IN_REVIEW"
	StatusAssigned        Status = "ASSIGNED"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusWaitingFeedback Status = "WAITING_FEEDBACK"
	StatusEscalated       Status = "ESCALATED"
	StatusResolved        Status = "RESOLVED"
	StatusClosed          Status = "CLOSED"
	StatusRejected        Status = "REJECTED"
)

// AllStatuses lists every state in workflow order.
var AllStatuses = []Status{
	StatusPending,
	StatusReceived,
	StatusInReview,
	StatusAssigned,
	StatusInProgress,
	StatusWaitingFeedback,
	StatusEscalated,
	StatusResolved,
	StatusClosed,
	StatusRejected,
}

type transitionRule struct {
	from Status
	to   []Status
}

// transitions is the complete allowed-transition table. CLOSED and REJECTED
// have no outgoing edges.
var transitions = []transitionRule{
	{from: StatusPending, to: []Status{StatusInProgress, StatusRejected}},
	{from: StatusReceived, to: []Status{StatusInReview, StatusRejected}},
	{from: StatusInReview, to: []Status{StatusAssigned, StatusRejected}},
	{from: StatusAssigned, to: []Status{StatusInProgress}},
	{from: StatusInProgress, to: []Status{StatusResolved, StatusEscalated, StatusWaitingFeedback}},
	{from: StatusWaitingFeedback, to: []Status{StatusInProgress, StatusResolved}},
	{from: StatusEscalated, to: []Status{StatusInProgress, StatusResolved}},
	{from: StatusResolved, to: []Status{StatusClosed}},
}

func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no manual transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusRejected
}

// EscalationTerminal reports whether the SLA sweep must leave s alone.
func (s Status) EscalationTerminal() bool {
	return s == StatusResolved || s == StatusClosed || s == StatusRejected
}

// NextStatuses returns the states reachable from s by a manual transition.
func NextStatuses(s Status) []Status {
	for _, rule := range transitions {
		if rule.from == s {
			out := make([]Status, len(rule.to))
			copy(out, rule.to)
			return out
		}
	}
	return nil
}

func CanTransition(from, to Status) bool {
	for _, next := range NextStatuses(from) {
		if next == to {
			return true
		}
	}
	return false
}

// EscalationTerminalStatuses is the exclusion list used by overdue queries.
func EscalationTerminalStatuses() []Status {
	return []Status{StatusResolved, StatusRejected, StatusClosed}
}
