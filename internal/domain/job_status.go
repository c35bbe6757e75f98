package domain

// JobStatus is a state of the job lifecycle.
type JobStatus string

const (
	StatusCreated         JobStatus = "CREATED"
	StatusPendingQuote    JobStatus = "PENDING_QUOTE"
	StatusQuoted          JobStatus = "QUOTED"
	StatusQuoteSent       JobStatus = "QUOTE_SENT"
	StatusQuoteAccepted   JobStatus = "QUOTE_ACCEPTED"
	StatusQuoteRejected   JobStatus = "QUOTE_REJECTED"
	StatusPendingPayment  JobStatus = "PENDING_PAYMENT"
	StatusPaid            JobStatus = "PAID"
	StatusAssigned        JobStatus = "ASSIGNED"
	StatusProAccepted     JobStatus = "PRO_ACCEPTED"
	StatusProOnWay        JobStatus = "PRO_ON_WAY"
	StatusInProgress      JobStatus = "IN_PROGRESS"
	StatusPendingApproval JobStatus = "PENDING_APPROVAL"
	StatusCompleted       JobStatus = "COMPLETED"
	StatusInGuarantee     JobStatus = "IN_GUARANTEE"
	StatusClosed          JobStatus = "CLOSED"
	StatusCancelled       JobStatus = "CANCELLED"
	StatusDisputed        JobStatus = "DISPUTED"
)

// AllStatuses lists every state in lifecycle order.
var AllStatuses = []JobStatus{
	StatusCreated, StatusPendingQuote, StatusQuoted, StatusQuoteSent,
	StatusQuoteAccepted, StatusQuoteRejected, StatusPendingPayment, StatusPaid,
	StatusAssigned, StatusProAccepted, StatusProOnWay, StatusInProgress,
	StatusPendingApproval, StatusCompleted, StatusInGuarantee, StatusClosed,
	StatusCancelled, StatusDisputed,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Reviewable reports whether a review may be written for a job in s.
func (s JobStatus) Reviewable() bool {
	switch s {
	case StatusCompleted, StatusInGuarantee, StatusClosed:
		return true
	}
	return false
}

// AcceptsCredits reports whether credits may be applied to a job in s.
func (s JobStatus) AcceptsCredits() bool {
	return s == StatusQuoteAccepted || s == StatusPendingPayment
}

// Party is a bit set describing how an actor relates to a job.
type Party uint8

const (
	// PartyClient is the job's own client.
	PartyClient Party = 1 << iota
	// PartyPro is the professional assigned to the job.
	PartyPro
	// PartyAnyPro is any professional, assigned or not.
	PartyAnyPro
	PartyAdmin
	PartySystem
)

// PartiesOf resolves the parties an actor plays on job.
func PartiesOf(job *Job, actorID string, role Role) Party {
	var p Party
	switch role {
	case RoleClient:
		if job.ClientID == actorID {
			p |= PartyClient
		}
	case RoleProfessional:
		p |= PartyAnyPro
		if job.ProfessionalID != nil && *job.ProfessionalID == actorID {
			p |= PartyPro
		}
	case RoleAdmin:
		p |= PartyAdmin
	case RoleSystem:
		p |= PartySystem
	}
	return p
}

type edge struct{ from, to JobStatus }

var transitions = map[edge]Party{}

func allow(parties Party, to JobStatus, from ...JobStatus) {
	for _, f := range from {
		transitions[edge{f, to}] |= parties
	}
}

var (
	prePaid = []JobStatus{
		StatusCreated, StatusPendingQuote, StatusQuoted, StatusQuoteSent,
		StatusQuoteAccepted, StatusQuoteRejected, StatusPendingPayment,
	}
	disputable = []JobStatus{
		StatusPaid, StatusAssigned, StatusProAccepted, StatusProOnWay,
		StatusInProgress, StatusPendingApproval, StatusCompleted, StatusInGuarantee,
	}
)

func init() {
	allow(PartyClient|PartyAdmin, StatusPendingQuote, StatusCreated, StatusQuoteRejected)
	allow(PartyAnyPro|PartyAdmin, StatusQuoted, StatusCreated, StatusPendingQuote)
	allow(PartyAnyPro|PartyAdmin, StatusQuoteSent, StatusCreated, StatusPendingQuote, StatusQuoted)
	allow(PartyClient, StatusQuoteAccepted, StatusQuoteSent)
	allow(PartyClient, StatusQuoteRejected, StatusQuoteSent)
	allow(PartyClient|PartyAdmin|PartySystem, StatusPendingPayment, StatusQuoteAccepted)
	allow(PartyAdmin|PartySystem, StatusPaid, StatusPendingPayment)
	allow(PartyAdmin|PartySystem, StatusAssigned, StatusPaid)
	allow(PartyPro, StatusProAccepted, StatusAssigned)
	allow(PartyPro|PartyAdmin, StatusPaid, StatusAssigned)
	allow(PartyPro, StatusProOnWay, StatusProAccepted)
	allow(PartyPro, StatusInProgress, StatusProOnWay)
	allow(PartyPro, StatusPendingApproval, StatusInProgress)
	allow(PartyClient|PartyAdmin, StatusCompleted, StatusPendingApproval)
	allow(PartyClient, StatusInProgress, StatusPendingApproval)
	allow(PartyAdmin|PartySystem, StatusInGuarantee, StatusCompleted)
	allow(PartyAdmin|PartySystem, StatusClosed, StatusCompleted, StatusInGuarantee)
	allow(PartyClient|PartyAdmin, StatusCancelled, prePaid...)
	allow(PartyClient|PartyPro|PartyAdmin, StatusDisputed, disputable...)
	allow(PartyAdmin, StatusClosed, StatusDisputed)
	allow(PartyAdmin, StatusCancelled, StatusDisputed)
}

// CanTransition reports whether any of parties may move a job from one status
// to another. Terminal states never transition.
func CanTransition(from, to JobStatus, parties Party) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	return transitions[edge{from, to}]&parties != 0
}

// NextStatuses returns the targets reachable from s by parties, in lifecycle
// order.
func NextStatuses(s JobStatus, parties Party) []JobStatus {
	var out []JobStatus
	for _, to := range AllStatuses {
		if CanTransition(s, to, parties) {
			out = append(out, to)
		}
	}
	return out
}
