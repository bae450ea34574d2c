package services

import (
	"testing"
	"time"

	"ranked-match-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerification(t *testing.T) (*VerificationService, *fakeStore, *recordingNotifier, *stubStarter) {
	t.Helper()
	store := newFakeStore()
	notifier := &recordingNotifier{}
	starter := &stubStarter{}
	vs := NewVerificationService(store, notifier)
	vs.BindLiveMatch(starter)
	return vs, store, notifier, starter
}

func duoSession() []SessionMember {
	return []SessionMember{
		{ParticipantID: "a", DisplayName: "A", Rating: 1000, Side: 0},
		{ParticipantID: "b", DisplayName: "B", Rating: 1040, Side: 1},
	}
}

func beginMatch(t *testing.T, vs *VerificationService, store *fakeStore, matchID string) {
	t.Helper()
	require.NoError(t, store.CreateMatchRecord(&models.MatchRecord{
		ID:     matchID,
		Mode:   models.Mode1v1,
		Status: models.MatchStatusPending,
	}))
	require.NoError(t, vs.Begin(matchID, models.Mode1v1, duoSession()))
}

func TestBeginMarksRecordVerifyingAndNotifies(t *testing.T) {
	vs, store, notifier, _ := newTestVerification(t)
	beginMatch(t, vs, store, "m1")

	assert.Equal(t, models.MatchStatusVerifying, store.record("m1").Status)
	assert.True(t, notifier.sentTo("a", "verification-start"))
	assert.True(t, notifier.sentTo("b", "verification-start"))
	assert.True(t, vs.Has("m1"))
}

func TestProbeEchoesWithoutMutating(t *testing.T) {
	vs, store, _, _ := newTestVerification(t)
	beginMatch(t, vs, store, "m1")

	echo, err := vs.Probe("m1", "a", 123456)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), echo.ClientTimestamp)
	assert.NotZero(t, echo.ServerTimestamp)

	_, err = vs.Probe("m1", "stranger", 1)
	require.Error(t, err)

	// Probing never counts as verifying.
	err = vs.MarkReady("m1", "a")
	kind, _ := KindOf(err)
	assert.Equal(t, KindPrecondition, kind)
}

func TestReadyBeforeVerifiedIsRejected(t *testing.T) {
	vs, store, notifier, starter := newTestVerification(t)
	beginMatch(t, vs, store, "m1")

	err := vs.MarkReady("m1", "a")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindPrecondition, kind)

	// Nothing moved: no ready broadcast, no start, session intact.
	assert.False(t, notifier.sentTo("a", "player-ready"))
	assert.Empty(t, starter.started())
	assert.True(t, vs.Has("m1"))
}

func TestFullVerificationFlowStartsMatch(t *testing.T) {
	vs, store, notifier, starter := newTestVerification(t)
	beginMatch(t, vs, store, "m1")

	require.NoError(t, vs.MarkVerified("m1", "a"))
	assert.True(t, notifier.sentTo("b", "player-verified"))
	assert.Empty(t, notifier.named("all-verified"))

	// Idempotent re-verify.
	require.NoError(t, vs.MarkVerified("m1", "a"))

	require.NoError(t, vs.MarkVerified("m1", "b"))
	assert.NotEmpty(t, notifier.named("all-verified"))
	assert.Empty(t, starter.started())

	require.NoError(t, vs.MarkReady("m1", "a"))
	assert.Empty(t, starter.started())

	require.NoError(t, vs.MarkReady("m1", "b"))
	require.Equal(t, []string{"m1"}, starter.started())
	assert.Equal(t, models.MatchStatusInProgress, store.record("m1").Status)
	assert.True(t, notifier.sentTo("a", "match-starting"))
	assert.False(t, vs.Has("m1"))
}

func TestFailedStartKeepsSessionForRetry(t *testing.T) {
	vs, store, _, starter := newTestVerification(t)
	beginMatch(t, vs, store, "m1")

	for _, p := range []string{"a", "b"} {
		require.NoError(t, vs.MarkVerified("m1", p))
	}
	require.NoError(t, vs.MarkReady("m1", "a"))

	store.err = assert.AnError
	err := vs.MarkReady("m1", "b")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindPersistence, kind)

	// The session survives the failed write; the match did not start.
	assert.True(t, vs.Has("m1"))
	assert.Empty(t, starter.started())
	assert.Equal(t, models.MatchStatusVerifying, store.record("m1").Status)

	store.err = nil
	require.NoError(t, vs.MarkReady("m1", "b"))
	require.Equal(t, []string{"m1"}, starter.started())
	assert.Equal(t, models.MatchStatusInProgress, store.record("m1").Status)
	assert.False(t, vs.Has("m1"))
}

func TestReportFailureVoidsMatch(t *testing.T) {
	vs, store, notifier, starter := newTestVerification(t)
	beginMatch(t, vs, store, "m1")

	require.NoError(t, vs.MarkVerified("m1", "a"))
	require.NoError(t, vs.ReportFailure("m1", "b", "client-crash"))

	rec := store.record("m1")
	assert.Equal(t, models.MatchStatusCancelled, rec.Status)
	assert.Equal(t, "client-crash", rec.CancelReason)
	require.NotNil(t, rec.FailedBy)
	assert.Equal(t, "b", *rec.FailedBy)

	assert.True(t, notifier.sentTo("a", "verification-failed"))
	assert.True(t, notifier.sentTo("b", "verification-failed"))
	assert.Empty(t, starter.started())
	assert.False(t, vs.Has("m1"))
}

func TestDeadlineExpiryVoidsWithTimeoutReason(t *testing.T) {
	vs, store, notifier, starter := newTestVerification(t)
	vs.timeout = 20 * time.Millisecond
	beginMatch(t, vs, store, "m1")

	require.NoError(t, vs.MarkVerified("m1", "a"))

	require.Eventually(t, func() bool {
		return !vs.Has("m1")
	}, time.Second, 5*time.Millisecond)

	rec := store.record("m1")
	assert.Equal(t, models.MatchStatusCancelled, rec.Status)
	assert.Equal(t, "timeout", rec.CancelReason)
	assert.Nil(t, rec.FailedBy)
	assert.True(t, notifier.sentTo("a", "verification-failed"))
	assert.Empty(t, starter.started())
}

func TestLateTimerAfterStartIsNoOp(t *testing.T) {
	vs, store, _, starter := newTestVerification(t)
	vs.timeout = 20 * time.Millisecond
	beginMatch(t, vs, store, "m1")

	for _, p := range []string{"a", "b"} {
		require.NoError(t, vs.MarkVerified("m1", p))
	}
	for _, p := range []string{"a", "b"} {
		require.NoError(t, vs.MarkReady("m1", p))
	}

	time.Sleep(50 * time.Millisecond)

	require.Equal(t, []string{"m1"}, starter.started())
	assert.Equal(t, models.MatchStatusInProgress, store.record("m1").Status)
}
