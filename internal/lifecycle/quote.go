// Package lifecycle holds the status machines for quotes, enquiries and
// installation jobs. It has no storage dependencies; services load a record,
// ask this package for the next state and persist the result.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTransition is returned when an action is not allowed from the current state.
var ErrInvalidTransition = errors.New("lifecycle: invalid status transition")

// ErrUnknownStatus is returned when a status string is outside the canonical vocabulary.
var ErrUnknownStatus = errors.New("lifecycle: unknown status")

// QuoteStatus is the canonical quote vocabulary.
type QuoteStatus string

const (
	QuoteDraft             QuoteStatus = "draft"
	QuoteSent              QuoteStatus = "sent"
	QuoteAccepted          QuoteStatus = "accepted"
	QuoteRejected          QuoteStatus = "rejected"
	QuoteReadyForInvoicing QuoteStatus = "ready_for_invoicing"
	QuoteInvoiced          QuoteStatus = "invoiced"
)

// Valid reports whether s belongs to the canonical vocabulary.
func (s QuoteStatus) Valid() bool {
	switch s {
	case QuoteDraft, QuoteSent, QuoteAccepted, QuoteRejected, QuoteReadyForInvoicing, QuoteInvoiced:
		return true
	}
	return false
}

// Editable reports whether items, discount and tax may still change.
func (s QuoteStatus) Editable() bool {
	return s == QuoteDraft || s == QuoteSent
}

// legacyQuoteStatuses maps the older dashboard vocabulary onto the canonical one.
// "expired" has no canonical counterpart and is rejected.
var legacyQuoteStatuses = map[string]QuoteStatus{
	"approved":  QuoteAccepted,
	"converted": QuoteAccepted,
}

// ParseQuoteStatus accepts canonical values and the legacy aliases.
func ParseQuoteStatus(raw string) (QuoteStatus, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if s := QuoteStatus(v); s.Valid() {
		return s, nil
	}
	if s, ok := legacyQuoteStatuses[v]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: quote status %q", ErrUnknownStatus, raw)
}

// QuoteAction is a forward transition offered on a quote.
type QuoteAction string

const (
	ActionMarkSent          QuoteAction = "mark_sent"
	ActionAccept            QuoteAction = "accept"
	ActionReject            QuoteAction = "reject"
	ActionReadyForInvoicing QuoteAction = "ready_for_invoicing"
	ActionInvoice           QuoteAction = "invoice"
)

type quoteEdge struct {
	from   QuoteStatus
	action QuoteAction
}

var quoteEdges = map[quoteEdge]QuoteStatus{
	{QuoteDraft, ActionMarkSent}:             QuoteSent,
	{QuoteSent, ActionAccept}:                QuoteAccepted,
	{QuoteSent, ActionReject}:                QuoteRejected,
	{QuoteAccepted, ActionReadyForInvoicing}: QuoteReadyForInvoicing,
	{QuoteReadyForInvoicing, ActionInvoice}:  QuoteInvoiced,
}

// actionOrder fixes the order QuoteActions reports actions in.
var actionOrder = []QuoteAction{ActionMarkSent, ActionAccept, ActionReject, ActionReadyForInvoicing, ActionInvoice}

// QuoteActions lists the actions available from status.
func QuoteActions(status QuoteStatus) []QuoteAction {
	var actions []QuoteAction
	for _, a := range actionOrder {
		if _, ok := quoteEdges[quoteEdge{status, a}]; ok {
			actions = append(actions, a)
		}
	}
	return actions
}

// NextQuoteStatus returns the status reached by applying action to status.
func NextQuoteStatus(status QuoteStatus, action QuoteAction) (QuoteStatus, error) {
	next, ok := quoteEdges[quoteEdge{status, action}]
	if !ok {
		return "", fmt.Errorf("%w: quote %s cannot %s", ErrInvalidTransition, status, action)
	}
	return next, nil
}

// QuoteTransition describes one applied quote transition.
type QuoteTransition struct {
	From   QuoteStatus
	To     QuoteStatus
	Action QuoteAction
	At     time.Time
}

// StampColumn names the timestamp column set by entering To, or "" when none.
func (t QuoteTransition) StampColumn() string {
	switch t.To {
	case QuoteSent:
		return "sent_at"
	case QuoteAccepted:
		return "accepted_at"
	case QuoteRejected:
		return "rejected_at"
	case QuoteInvoiced:
		return "invoiced_at"
	}
	return ""
}

// TransitionQuote validates action against status and returns the transition at now.
func TransitionQuote(status QuoteStatus, action QuoteAction, now time.Time) (QuoteTransition, error) {
	next, err := NextQuoteStatus(status, action)
	if err != nil {
		return QuoteTransition{}, err
	}
	return QuoteTransition{From: status, To: next, Action: action, At: now}, nil
}

// CanConvertToJob reports whether a quote in status may spawn a job.
// A sent quote is accepted as part of the conversion.
func CanConvertToJob(status QuoteStatus) bool {
	return status == QuoteSent || status == QuoteAccepted
}
