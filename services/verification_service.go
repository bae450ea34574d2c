package services

import (
	"log"
	"sync"
	"time"

	"ranked-match-system/models"
)

// DefaultVerifyTimeout bounds the whole verification phase.
const DefaultVerifyTimeout = 60 * time.Second

// SessionMember is a participant with a side assignment, carried from
// acceptance through verification into the live match.
type SessionMember struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Rating        int    `json:"rating"`
	Side          int    `json:"side"`
}

type verificationMember struct {
	SessionMember
	Verified bool
	Ready    bool
}

// VerificationSession tracks connection and readiness confirmation for one
// accepted match before gameplay starts.
type VerificationSession struct {
	MatchID  string
	Mode     models.Mode
	Members  []*verificationMember
	Deadline time.Time

	timer *time.Timer
	done  bool
}

// ProbeEcho is the round-trip response clients use to measure latency. Pure
// echo, no state change.
type ProbeEcho struct {
	MatchID         string `json:"match_id"`
	ClientTimestamp int64  `json:"client_ts"`
	ServerTimestamp int64  `json:"server_ts"`
}

// MatchStarter receives fully-verified matches. Implemented by
// LiveMatchService.
type MatchStarter interface {
	Start(matchID string, mode models.Mode, members []SessionMember)
}

// VerificationService confirms each member's connection is live and the client
// is ready. Any failure or the deadline voids the whole match.
type VerificationService struct {
	mu       sync.Mutex
	sessions map[string]*VerificationSession

	store    Store
	notifier Notifier
	live     MatchStarter
	timeout  time.Duration

	now func() time.Time
}

func NewVerificationService(store Store, notifier Notifier) *VerificationService {
	return &VerificationService{
		sessions: make(map[string]*VerificationSession),
		store:    store,
		notifier: notifier,
		timeout:  DefaultVerifyTimeout,
		now:      time.Now,
	}
}

// BindLiveMatch wires the live-match stage in after construction.
func (vs *VerificationService) BindLiveMatch(l MatchStarter) {
	vs.live = l
}

// Begin opens the verification session for an accepted match. The status write
// is awaited before members are notified.
func (vs *VerificationService) Begin(matchID string, mode models.Mode, members []SessionMember) error {
	if err := vs.store.UpdateMatchStatus(matchID, models.MatchStatusVerifying); err != nil {
		return NewPersistenceError("marking match verifying", err)
	}

	session := &VerificationSession{
		MatchID:  matchID,
		Mode:     mode,
		Deadline: vs.now().Add(vs.timeout),
	}
	for _, m := range members {
		session.Members = append(session.Members, &verificationMember{SessionMember: m})
	}

	vs.mu.Lock()
	vs.sessions[matchID] = session
	session.timer = time.AfterFunc(vs.timeout, func() { vs.expire(matchID) })
	vs.mu.Unlock()

	payload := map[string]interface{}{
		"match_id": matchID,
		"mode":     mode,
		"members":  members,
		"deadline": session.Deadline,
	}
	for _, m := range members {
		vs.notifier.Send(m.ParticipantID, "verification-start", payload)
	}
	log.Printf("🔎 [VERIFY] session opened for match %s (%s)", matchID, mode)
	return nil
}

// Probe echoes the client timestamp with the server time attached. Liveness
// and latency only, never a correctness gate.
func (vs *VerificationService) Probe(matchID, participantID string, clientTimestamp int64) (*ProbeEcho, error) {
	vs.mu.Lock()
	session, ok := vs.sessions[matchID]
	if !ok {
		vs.mu.Unlock()
		return nil, NewNotFoundError("verification session for match %s not found", matchID)
	}
	member := session.member(participantID)
	vs.mu.Unlock()

	if member == nil {
		return nil, NewValidationError("participant %s is not a member of match %s", participantID, matchID)
	}
	return &ProbeEcho{
		MatchID:         matchID,
		ClientTimestamp: clientTimestamp,
		ServerTimestamp: vs.now().UnixMilli(),
	}, nil
}

// MarkVerified records a confirmed connection. Idempotent. When the last
// member verifies, everyone is told they may ready up; the match does not
// start yet.
func (vs *VerificationService) MarkVerified(matchID, participantID string) error {
	vs.mu.Lock()
	session, ok := vs.sessions[matchID]
	if !ok {
		vs.mu.Unlock()
		return NewNotFoundError("verification session for match %s not found", matchID)
	}
	member := session.member(participantID)
	if member == nil {
		vs.mu.Unlock()
		return NewValidationError("participant %s is not a member of match %s", participantID, matchID)
	}
	member.Verified = true
	allVerified := session.allVerified()
	vs.mu.Unlock()

	vs.broadcast(session, "player-verified", map[string]interface{}{
		"match_id":       matchID,
		"participant_id": participantID,
	})
	if allVerified {
		vs.broadcast(session, "all-verified", map[string]interface{}{"match_id": matchID})
	}
	return nil
}

// MarkReady records readiness. Rejected while the member is unverified. When
// everyone is ready the match record flips to in_progress and control moves to
// the live tracker.
func (vs *VerificationService) MarkReady(matchID, participantID string) error {
	vs.mu.Lock()
	session, ok := vs.sessions[matchID]
	if !ok {
		vs.mu.Unlock()
		return NewNotFoundError("verification session for match %s not found", matchID)
	}
	member := session.member(participantID)
	if member == nil {
		vs.mu.Unlock()
		return NewValidationError("participant %s is not a member of match %s", participantID, matchID)
	}
	if !member.Verified {
		vs.mu.Unlock()
		return NewPreconditionError("participant %s has not verified for match %s", participantID, matchID)
	}
	member.Ready = true

	if !session.allReady() {
		vs.mu.Unlock()
		vs.broadcast(session, "player-ready", map[string]interface{}{
			"match_id":       matchID,
			"participant_id": participantID,
		})
		return nil
	}
	if session.done {
		vs.mu.Unlock()
		return NewConflictError("match %s is already being finalized", matchID)
	}

	// Everyone is ready: block the deadline timer and failure reports, but
	// keep the session registered until the status write lands so a failed
	// write can be retried with another ready call.
	session.done = true
	session.timer.Stop()
	vs.mu.Unlock()

	vs.broadcast(session, "player-ready", map[string]interface{}{
		"match_id":       matchID,
		"participant_id": participantID,
	})

	if err := vs.store.UpdateMatchStatus(matchID, models.MatchStatusInProgress); err != nil {
		vs.mu.Lock()
		session.done = false
		vs.mu.Unlock()
		log.Printf("❌ [VERIFY] marking match %s in progress: %v", matchID, err)
		return NewPersistenceError("marking match in progress", err)
	}

	members := make([]SessionMember, 0, len(session.Members))
	for _, m := range session.Members {
		members = append(members, m.SessionMember)
	}
	// The live match is registered before the session is dropped so the
	// participants are never without downstream state.
	vs.live.Start(matchID, session.Mode, members)

	vs.mu.Lock()
	delete(vs.sessions, matchID)
	vs.mu.Unlock()

	vs.broadcast(session, "match-starting", map[string]interface{}{"match_id": matchID})
	log.Printf("▶️ [VERIFY] match %s starting", matchID)
	return nil
}

// ReportFailure voids the session on a member's explicit failure report.
// Nobody is re-enqueued; verification failure is a harder fault than a
// decline.
func (vs *VerificationService) ReportFailure(matchID, participantID, reason string) error {
	vs.mu.Lock()
	session, ok := vs.sessions[matchID]
	if !ok {
		vs.mu.Unlock()
		return NewNotFoundError("verification session for match %s not found", matchID)
	}
	if session.member(participantID) == nil {
		vs.mu.Unlock()
		return NewValidationError("participant %s is not a member of match %s", participantID, matchID)
	}
	if session.done {
		vs.mu.Unlock()
		return NewConflictError("match %s is already being finalized", matchID)
	}
	session.done = true
	session.timer.Stop()
	delete(vs.sessions, matchID)
	vs.mu.Unlock()

	return vs.void(session, reason, &participantID)
}

// Has reports whether a verification session exists for the match.
func (vs *VerificationService) Has(matchID string) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	_, ok := vs.sessions[matchID]
	return ok
}

// HasParticipant reports whether the participant is in any open verification
// session.
func (vs *VerificationService) HasParticipant(participantID string) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	for _, session := range vs.sessions {
		if session.member(participantID) != nil {
			return true
		}
	}
	return false
}

// expire fires from the deadline timer; same effect as a failure report with
// no specific failing participant.
func (vs *VerificationService) expire(matchID string) {
	vs.mu.Lock()
	session, ok := vs.sessions[matchID]
	if !ok || session.done {
		vs.mu.Unlock()
		return
	}
	session.done = true
	session.timer.Stop()
	delete(vs.sessions, matchID)
	vs.mu.Unlock()

	_ = vs.void(session, "timeout", nil)
}

func (vs *VerificationService) void(session *VerificationSession, reason string, failedBy *string) error {
	err := vs.store.CancelMatchRecord(session.MatchID, reason, failedBy)
	if err != nil {
		log.Printf("❌ [VERIFY] cancelling match %s: %v", session.MatchID, err)
	}

	payload := map[string]interface{}{
		"match_id": session.MatchID,
		"reason":   reason,
	}
	if failedBy != nil {
		payload["failed_by"] = *failedBy
	}
	vs.broadcast(session, "verification-failed", payload)
	log.Printf("🚫 [VERIFY] match %s voided (%s)", session.MatchID, reason)

	if err != nil {
		return NewPersistenceError("cancelling match record", err)
	}
	return nil
}

func (vs *VerificationService) broadcast(session *VerificationSession, event string, payload interface{}) {
	for _, m := range session.Members {
		vs.notifier.Send(m.ParticipantID, event, payload)
	}
}

func (s *VerificationSession) member(participantID string) *verificationMember {
	for _, m := range s.Members {
		if m.ParticipantID == participantID {
			return m
		}
	}
	return nil
}

func (s *VerificationSession) allVerified() bool {
	for _, m := range s.Members {
		if !m.Verified {
			return false
		}
	}
	return true
}

func (s *VerificationSession) allReady() bool {
	for _, m := range s.Members {
		if !m.Ready {
			return false
		}
	}
	return true
}
