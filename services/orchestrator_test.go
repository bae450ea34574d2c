package services

import (
	"testing"

	"ranked-match-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wires the real pipeline (queue → proposal → verification → live match) over
// the in-memory fakes and walks one 1v1 match from enqueue to settlement.
func TestFullMatchLifecycle(t *testing.T) {
	store := newFakeStore()
	notifier := &recordingNotifier{}

	queue := NewQueueService(store, allowAll{})
	proposals := NewProposalService(store, notifier, queue)
	verification := NewVerificationService(store, notifier)
	live := NewLiveMatchService(store, notifier)

	queue.BindNegotiator(proposals)
	proposals.BindVerification(verification)
	verification.BindLiveMatch(live)
	queue.BindActiveMatchCheckers(proposals, verification, live)

	store.setProfile(models.RatingProfile{ParticipantID: "a", Mode: models.Mode1v1, Rating: 1000, GamesPlayed: 30})
	store.setProfile(models.RatingProfile{ParticipantID: "b", Mode: models.Mode1v1, Rating: 1050, GamesPlayed: 30})

	_, err := queue.Enqueue("a", "Alice", models.Mode1v1)
	require.NoError(t, err)
	_, err = queue.Enqueue("b", "Bob", models.Mode1v1)
	require.NoError(t, err)

	queue.ProcessMode(models.Mode1v1)

	found := notifier.named("match-found")
	require.Len(t, found, 2)
	roster, ok := found[0].Payload.(proposalRoster)
	require.True(t, ok)
	proposalID := roster.ProposalID

	// A participant can be in only one pending match.
	assert.True(t, proposals.HasParticipant("a"))
	assert.False(t, queue.Queued("a", models.Mode1v1))

	_, err = proposals.Accept(proposalID, "a")
	require.NoError(t, err)
	all, err := proposals.Accept(proposalID, "b")
	require.NoError(t, err)
	require.True(t, all)

	starts := notifier.named("verification-start")
	require.Len(t, starts, 2)
	payload, ok := starts[0].Payload.(map[string]interface{})
	require.True(t, ok)
	matchID := payload["match_id"].(string)

	require.Equal(t, models.MatchStatusVerifying, store.record(matchID).Status)

	for _, p := range []string{"a", "b"} {
		_, err = verification.Probe(matchID, p, 42)
		require.NoError(t, err)
		require.NoError(t, verification.MarkVerified(matchID, p))
	}
	for _, p := range []string{"a", "b"} {
		require.NoError(t, verification.MarkReady(matchID, p))
	}

	require.Equal(t, models.MatchStatusInProgress, store.record(matchID).Status)
	require.True(t, live.Has(matchID))

	// Find which side Alice plays on and score her to the limit.
	var aliceSide int
	for _, p := range store.record(matchID).Participants {
		if p.ParticipantID == "a" {
			aliceSide = p.Side
		}
	}
	for i := 0; i < models.Mode1v1.ScoreLimit(); i++ {
		require.NoError(t, live.Goal(matchID, "a", ""))
	}

	rec := store.record(matchID)
	require.Equal(t, models.MatchStatusCompleted, rec.Status)
	assert.False(t, live.Has(matchID))

	winnerScore := rec.ScoreSide0
	if aliceSide == 1 {
		winnerScore = rec.ScoreSide1
	}
	assert.Equal(t, models.Mode1v1.ScoreLimit(), winnerScore)

	alice := store.profile("a", models.Mode1v1)
	bob := store.profile("b", models.Mode1v1)
	assert.Greater(t, alice.Rating, 1000)
	assert.Less(t, bob.Rating, 1050)

	assert.Len(t, notifier.named("match-end"), 2)
}

// A member of a pending match cannot slip back into the queue and be paired
// a second time.
func TestQueueRejectsMemberOfPendingProposal(t *testing.T) {
	store := newFakeStore()
	notifier := &recordingNotifier{}

	queue := NewQueueService(store, allowAll{})
	proposals := NewProposalService(store, notifier, queue)
	queue.BindNegotiator(proposals)
	queue.BindActiveMatchCheckers(proposals)
	proposals.BindVerification(&stubVerification{})

	_, err := queue.Enqueue("a", "Alice", models.Mode1v1)
	require.NoError(t, err)
	_, err = queue.Enqueue("b", "Bob", models.Mode1v1)
	require.NoError(t, err)
	queue.ProcessMode(models.Mode1v1)
	require.Len(t, notifier.named("match-found"), 2)

	_, err = queue.Enqueue("a", "Alice", models.Mode1v1)
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindConflict, kind)

	// A third hopeful joining must not produce a second proposal for "a".
	_, err = queue.Enqueue("c", "Cara", models.Mode1v1)
	require.NoError(t, err)
	queue.ProcessMode(models.Mode1v1)
	assert.Len(t, notifier.named("match-found"), 2)
}

// A declined proposal routes the cooperative member straight back into the
// pool where the next tick can pair them again.
func TestDeclineReentersQueueForNextTick(t *testing.T) {
	store := newFakeStore()
	notifier := &recordingNotifier{}

	queue := NewQueueService(store, allowAll{})
	proposals := NewProposalService(store, notifier, queue)
	queue.BindNegotiator(proposals)
	proposals.BindVerification(&stubVerification{})

	_, err := queue.Enqueue("a", "Alice", models.Mode1v1)
	require.NoError(t, err)
	_, err = queue.Enqueue("b", "Bob", models.Mode1v1)
	require.NoError(t, err)

	queue.ProcessMode(models.Mode1v1)
	found := notifier.named("match-found")
	require.Len(t, found, 2)
	proposalID := found[0].Payload.(proposalRoster).ProposalID

	_, err = proposals.Accept(proposalID, "a")
	require.NoError(t, err)
	require.NoError(t, proposals.Decline(proposalID, "b"))

	assert.True(t, queue.Queued("a", models.Mode1v1))
	assert.False(t, queue.Queued("b", models.Mode1v1))
	assert.False(t, proposals.HasParticipant("a"))
}
