package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteHappyPath(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	steps := []struct {
		action QuoteAction
		want   QuoteStatus
		stamp  string
	}{
		{ActionMarkSent, QuoteSent, "sent_at"},
		{ActionAccept, QuoteAccepted, "accepted_at"},
		{ActionReadyForInvoicing, QuoteReadyForInvoicing, ""},
		{ActionInvoice, QuoteInvoiced, "invoiced_at"},
	}
	status := QuoteDraft
	for _, step := range steps {
		tr, err := TransitionQuote(status, step.action, now)
		require.NoError(t, err)
		assert.Equal(t, status, tr.From)
		assert.Equal(t, step.want, tr.To)
		assert.Equal(t, step.stamp, tr.StampColumn())
		assert.True(t, tr.At.Equal(now))
		status = tr.To
	}
	assert.Empty(t, QuoteActions(status))
}

func TestQuoteActionsAreContextual(t *testing.T) {
	assert.Equal(t, []QuoteAction{ActionMarkSent}, QuoteActions(QuoteDraft))
	assert.Equal(t, []QuoteAction{ActionAccept, ActionReject}, QuoteActions(QuoteSent))
	assert.Equal(t, []QuoteAction{ActionReadyForInvoicing}, QuoteActions(QuoteAccepted))
	assert.Empty(t, QuoteActions(QuoteRejected))
}

func TestQuoteNoBackwardTransitions(t *testing.T) {
	_, err := NextQuoteStatus(QuoteSent, ActionMarkSent)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = NextQuoteStatus(QuoteRejected, ActionAccept)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = NextQuoteStatus(QuoteDraft, ActionInvoice)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestParseQuoteStatus(t *testing.T) {
	s, err := ParseQuoteStatus("Approved")
	require.NoError(t, err)
	assert.Equal(t, QuoteAccepted, s)

	s, err = ParseQuoteStatus("ready_for_invoicing")
	require.NoError(t, err)
	assert.Equal(t, QuoteReadyForInvoicing, s)

	_, err = ParseQuoteStatus("expired")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestParseEnquiryStatus(t *testing.T) {
	s, err := ParseEnquiryStatus("in-progress")
	require.NoError(t, err)
	assert.Equal(t, EnquiryContacted, s)

	s, err = ParseEnquiryStatus("closed")
	require.NoError(t, err)
	assert.Equal(t, EnquiryLost, s)

	_, err = ParseEnquiryStatus("archived")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestCanConvertToJob(t *testing.T) {
	assert.True(t, CanConvertToJob(QuoteSent))
	assert.True(t, CanConvertToJob(QuoteAccepted))
	assert.False(t, CanConvertToJob(QuoteDraft))
	assert.False(t, CanConvertToJob(QuoteRejected))
	assert.False(t, CanConvertToJob(QuoteInvoiced))
}
