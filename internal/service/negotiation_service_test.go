package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/errors"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
)

func TestNegotiationThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.submit(t, "400.00")

	_, err := f.negotiation.PostMessage(ctx, clientActor, &PostMessageRequest{ProposalID: p.ID, Message: "Can you do a shorter edit?"})
	require.NoError(t, err)

	offer := dec("350.00")
	terms := "net60"
	counter, err := f.negotiation.PostMessage(ctx, producerActor, &PostMessageRequest{
		ProposalID:   p.ID,
		Message:      "Sure, at a lower rate.",
		CounterOffer: &offer,
		CounterTerms: &terms,
	})
	require.NoError(t, err)
	assertAmount(t, "350.00", *counter.CounterOffer)

	// Same timestamp: insertion order decides.
	_, err = f.negotiation.PostMessage(ctx, clientActor, &PostMessageRequest{ProposalID: p.ID, Message: "Deal."})
	require.NoError(t, err)

	msgs, err := f.negotiation.ListMessages(ctx, producerActor, p.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Can you do a shorter edit?", msgs[0].Message)
	assert.Equal(t, producerActor.ID, msgs[1].SenderID)
	assert.Equal(t, "Deal.", msgs[2].Message)

	got, err := f.proposals.GetProposal(ctx, clientActor, p.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.PhaseProducerPending, got.State.Phase())
	assertAmount(t, "400.00", got.SyncFee)
}

func TestNegotiationRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.submit(t, "400.00")

	_, err := f.negotiation.PostMessage(ctx, clientActor, &PostMessageRequest{ProposalID: p.ID, Message: "   "})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	zero := dec("0")
	_, err = f.negotiation.PostMessage(ctx, clientActor, &PostMessageRequest{ProposalID: p.ID, Message: "free?", CounterOffer: &zero})
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))

	_, err = f.negotiation.PostMessage(ctx, otherProducer, &PostMessageRequest{ProposalID: p.ID, Message: "hello"})
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
	_, err = f.negotiation.PostMessage(ctx, adminActor, &PostMessageRequest{ProposalID: p.ID, Message: "hello"})
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	_, err = f.negotiation.PostMessage(ctx, clientActor, &PostMessageRequest{ProposalID: "missing", Message: "hello"})
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	_, err = f.proposals.ProducerDecide(ctx, producerActor, p.ID, repository.DecisionAccept)
	require.NoError(t, err)
	_, err = f.negotiation.PostMessage(ctx, clientActor, &PostMessageRequest{ProposalID: p.ID, Message: "one more thing"})
	assert.Equal(t, errors.ErrCodeInvalidTransition, errors.CodeOf(err))

	q := f.submit(t, "90.00")
	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.negotiation.PostMessage(ctx, clientActor, &PostMessageRequest{ProposalID: q.ID, Message: "still there?"})
	assert.Equal(t, errors.ErrCodeInvalidTransition, errors.CodeOf(err))

	msgs, err := f.negotiation.ListMessages(ctx, clientActor, p.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
