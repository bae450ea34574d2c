package services

import (
	"log"
	"sync"
	"time"

	"ranked-match-system/models"
)

// Broadcast throttling for high-frequency counters. Goals, connection changes
// and timeouts always broadcast immediately.
const (
	touchBroadcastEvery = 10
	kickBroadcastEvery  = 5
)

// LiveMember is one participant of an in-progress match with its authoritative
// counters.
type LiveMember struct {
	SessionMember
	Connected      bool
	DisconnectedAt *time.Time

	Goals    int
	Assists  int
	OwnGoals int
	Touches  int
	Kicks    int
}

// GoalEvent records one scored goal (or own-goal) in arrival order.
type GoalEvent struct {
	ScorerID string    `json:"scorer_id"`
	AssistID string    `json:"assist_id,omitempty"`
	OwnGoal  bool      `json:"own_goal"`
	Side     int       `json:"side"`
	At       time.Time `json:"at"`
}

// LiveMatch is the in-memory authoritative state of one in-progress match.
type LiveMatch struct {
	MatchID string
	Mode    models.Mode
	Members []*LiveMember

	SideScores      [2]int
	Goals           []GoalEvent
	Possession      [2]int
	ActiveTimeoutBy string
	StartedAt       time.Time

	touchesSinceBroadcast int
	kicksSinceBroadcast   int
	settling              bool
}

// ParticipantSummary is one participant's final line in a settled match.
type ParticipantSummary struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Side          int    `json:"side"`
	Goals         int    `json:"goals"`
	Assists       int    `json:"assists"`
	OwnGoals      int    `json:"own_goals"`
	Touches       int    `json:"touches"`
	Kicks         int    `json:"kicks"`
	PossessionPct int    `json:"possession_pct"`
	RatingBefore  int    `json:"rating_before"`
	RatingDelta   int    `json:"rating_delta"`
	Result        string `json:"result"`
}

// MatchSummary is the settlement result pushed to every member.
type MatchSummary struct {
	MatchID      string               `json:"match_id"`
	Mode         models.Mode          `json:"mode"`
	Score        [2]int               `json:"score"`
	WinningSide  int                  `json:"winning_side"`
	DurationSec  int                  `json:"duration_sec"`
	Participants []ParticipantSummary `json:"participants"`
}

// LiveMatchService tracks every in-progress match and settles them. This is
// the only path that mutates rating profiles.
type LiveMatchService struct {
	mu      sync.Mutex
	matches map[string]*LiveMatch

	store    Store
	notifier Notifier

	now func() time.Time
}

func NewLiveMatchService(store Store, notifier Notifier) *LiveMatchService {
	return &LiveMatchService{
		matches:  make(map[string]*LiveMatch),
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Start registers a verified match as in progress.
func (ls *LiveMatchService) Start(matchID string, mode models.Mode, members []SessionMember) {
	m := &LiveMatch{
		MatchID:    matchID,
		Mode:       mode,
		StartedAt:  ls.now(),
		Possession: [2]int{50, 50},
	}
	for _, sm := range members {
		m.Members = append(m.Members, &LiveMember{SessionMember: sm, Connected: true})
	}

	ls.mu.Lock()
	ls.matches[matchID] = m
	ls.mu.Unlock()

	log.Printf("🏟 [LIVE] match %s started (%s)", matchID, mode)
}

// Has reports whether the match is currently tracked.
func (ls *LiveMatchService) Has(matchID string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	_, ok := ls.matches[matchID]
	return ok
}

// HasParticipant reports whether the participant is in any tracked match.
func (ls *LiveMatchService) HasParticipant(participantID string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, m := range ls.matches {
		if m.member(participantID) != nil {
			return true
		}
	}
	return false
}

func (ls *LiveMatchService) lookup(matchID, participantID string) (*LiveMatch, *LiveMember, error) {
	m, ok := ls.matches[matchID]
	if !ok {
		return nil, nil, NewNotFoundError("match %s is not active", matchID)
	}
	if m.settling {
		return nil, nil, NewConflictError("match %s is settling", matchID)
	}
	member := m.member(participantID)
	if member == nil {
		return nil, nil, NewValidationError("participant %s is not a member of match %s", participantID, matchID)
	}
	return m, member, nil
}

// Touch records a ball touch. Counters broadcast only every Nth increment.
func (ls *LiveMatchService) Touch(matchID, participantID string) error {
	ls.mu.Lock()
	m, member, err := ls.lookup(matchID, participantID)
	if err != nil {
		ls.mu.Unlock()
		return err
	}
	member.Touches++
	m.touchesSinceBroadcast++
	broadcast := m.touchesSinceBroadcast >= touchBroadcastEvery
	if broadcast {
		m.touchesSinceBroadcast = 0
	}
	payload := m.statsPayload()
	ls.mu.Unlock()

	if broadcast {
		ls.broadcast(m, "stats-update", payload)
	}
	return nil
}

// Kick records a ball kick, throttled like touches.
func (ls *LiveMatchService) Kick(matchID, participantID string) error {
	ls.mu.Lock()
	m, member, err := ls.lookup(matchID, participantID)
	if err != nil {
		ls.mu.Unlock()
		return err
	}
	member.Kicks++
	m.kicksSinceBroadcast++
	broadcast := m.kicksSinceBroadcast >= kickBroadcastEvery
	if broadcast {
		m.kicksSinceBroadcast = 0
	}
	payload := m.statsPayload()
	ls.mu.Unlock()

	if broadcast {
		ls.broadcast(m, "stats-update", payload)
	}
	return nil
}

// Goal credits a goal to the scorer's side. An assist must come from a
// teammate. Reaching the mode's score limit settles the match.
func (ls *LiveMatchService) Goal(matchID, scorerID, assistID string) error {
	ls.mu.Lock()
	m, scorer, err := ls.lookup(matchID, scorerID)
	if err != nil {
		ls.mu.Unlock()
		return err
	}

	var assist *LiveMember
	if assistID != "" {
		assist = m.member(assistID)
		if assist == nil {
			ls.mu.Unlock()
			return NewValidationError("assist participant %s is not a member of match %s", assistID, matchID)
		}
		if assist.Side != scorer.Side {
			ls.mu.Unlock()
			return NewValidationError("assist must come from the scoring side")
		}
		if assist.ParticipantID == scorer.ParticipantID {
			ls.mu.Unlock()
			return NewValidationError("scorer cannot assist their own goal")
		}
	}

	scorer.Goals++
	if assist != nil {
		assist.Assists++
	}
	side := scorer.Side
	m.SideScores[side]++
	goal := GoalEvent{ScorerID: scorerID, AssistID: assistID, Side: side, At: ls.now()}
	m.Goals = append(m.Goals, goal)
	limitReached := m.SideScores[side] >= m.Mode.ScoreLimit()
	scores := m.SideScores
	ls.mu.Unlock()

	ls.broadcast(m, "goal-scored", map[string]interface{}{
		"match_id": matchID,
		"goal":     goal,
		"score":    scores,
	})

	if limitReached {
		if _, err := ls.Settle(matchID, side); err != nil {
			return err
		}
	}
	return nil
}

// OwnGoal credits the goal to the side opposing the scorer.
func (ls *LiveMatchService) OwnGoal(matchID, scorerID string) error {
	ls.mu.Lock()
	m, scorer, err := ls.lookup(matchID, scorerID)
	if err != nil {
		ls.mu.Unlock()
		return err
	}

	scorer.OwnGoals++
	side := 1 - scorer.Side
	m.SideScores[side]++
	goal := GoalEvent{ScorerID: scorerID, OwnGoal: true, Side: side, At: ls.now()}
	m.Goals = append(m.Goals, goal)
	limitReached := m.SideScores[side] >= m.Mode.ScoreLimit()
	scores := m.SideScores
	ls.mu.Unlock()

	ls.broadcast(m, "goal-scored", map[string]interface{}{
		"match_id": matchID,
		"goal":     goal,
		"score":    scores,
	})

	if limitReached {
		if _, err := ls.Settle(matchID, side); err != nil {
			return err
		}
	}
	return nil
}

// Possession stores the latest possession split. The two shares must be
// non-negative and sum to exactly 100. Folded into the next throttled
// stats-update rather than broadcast on its own.
func (ls *LiveMatchService) Possession(matchID, participantID string, share0, share1 int) error {
	if share0 < 0 || share1 < 0 || share0+share1 != 100 {
		return NewValidationError("possession shares must be non-negative and sum to 100")
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	m, _, err := ls.lookup(matchID, participantID)
	if err != nil {
		return err
	}
	m.Possession = [2]int{share0, share1}
	return nil
}

// Disconnect opens a disconnect window for the member. Always broadcast.
func (ls *LiveMatchService) Disconnect(matchID, participantID string) error {
	ls.mu.Lock()
	m, member, err := ls.lookup(matchID, participantID)
	if err != nil {
		ls.mu.Unlock()
		return err
	}
	now := ls.now()
	member.Connected = false
	member.DisconnectedAt = &now
	ls.mu.Unlock()

	ls.broadcast(m, "player-connection-update", map[string]interface{}{
		"match_id":       matchID,
		"participant_id": participantID,
		"connected":      false,
	})
	return nil
}

// Reconnect closes the member's disconnect window. Always broadcast.
func (ls *LiveMatchService) Reconnect(matchID, participantID string) error {
	ls.mu.Lock()
	m, member, err := ls.lookup(matchID, participantID)
	if err != nil {
		ls.mu.Unlock()
		return err
	}
	member.Connected = true
	member.DisconnectedAt = nil
	ls.mu.Unlock()

	ls.broadcast(m, "player-connection-update", map[string]interface{}{
		"match_id":       matchID,
		"participant_id": participantID,
		"connected":      true,
	})
	return nil
}

// TechnicalIssue relays a member's issue report to the whole match.
func (ls *LiveMatchService) TechnicalIssue(matchID, participantID, description string) error {
	ls.mu.Lock()
	m, _, err := ls.lookup(matchID, participantID)
	if err != nil {
		ls.mu.Unlock()
		return err
	}
	ls.mu.Unlock()

	ls.broadcast(m, "technical-issue", map[string]interface{}{
		"match_id":       matchID,
		"participant_id": participantID,
		"description":    description,
	})
	return nil
}

// TimeoutRequest opens a timeout. Only one may be active at a time.
func (ls *LiveMatchService) TimeoutRequest(matchID, participantID string) error {
	ls.mu.Lock()
	m, _, err := ls.lookup(matchID, participantID)
	if err != nil {
		ls.mu.Unlock()
		return err
	}
	if m.ActiveTimeoutBy != "" {
		ls.mu.Unlock()
		return NewPreconditionError("a timeout is already active in match %s", matchID)
	}
	m.ActiveTimeoutBy = participantID
	ls.mu.Unlock()

	ls.broadcast(m, "timeout-start", map[string]interface{}{
		"match_id":     matchID,
		"requested_by": participantID,
	})
	return nil
}

// TimeoutEnd closes the active timeout.
func (ls *LiveMatchService) TimeoutEnd(matchID, participantID string) error {
	ls.mu.Lock()
	m, _, err := ls.lookup(matchID, participantID)
	if err != nil {
		ls.mu.Unlock()
		return err
	}
	if m.ActiveTimeoutBy == "" {
		ls.mu.Unlock()
		return NewPreconditionError("no timeout is active in match %s", matchID)
	}
	m.ActiveTimeoutBy = ""
	ls.mu.Unlock()

	ls.broadcast(m, "timeout-end", map[string]interface{}{
		"match_id": matchID,
		"ended_by": participantID,
	})
	return nil
}

// Settle finalizes the match: per-participant stats, one rating delta per
// participant against the opposing side's mean, durable record + profiles
// persisted before anyone is notified, then the in-memory match is dropped.
// On a persistence failure the in-memory state is kept so the call can be
// retried.
func (ls *LiveMatchService) Settle(matchID string, winningSide int) (*MatchSummary, error) {
	if winningSide != 0 && winningSide != 1 {
		return nil, NewValidationError("winning side must be 0 or 1")
	}

	ls.mu.Lock()
	m, ok := ls.matches[matchID]
	if !ok {
		ls.mu.Unlock()
		return nil, NewNotFoundError("match %s is not active", matchID)
	}
	if m.settling {
		ls.mu.Unlock()
		return nil, NewConflictError("match %s is already settling", matchID)
	}
	limit := m.Mode.ScoreLimit()
	if m.SideScores[1-winningSide] >= limit && m.SideScores[winningSide] < limit {
		ls.mu.Unlock()
		return nil, NewValidationError("winning side %d contradicts the score %d:%d",
			winningSide, m.SideScores[0], m.SideScores[1])
	}
	m.settling = true
	duration := int(ls.now().Sub(m.StartedAt).Seconds())
	// Copy the counters while no event can be mid-write; late events are
	// rejected until settling concludes.
	snap := m.snapshotLocked()
	ls.mu.Unlock()

	summary, rec, profiles, err := ls.buildSettlement(snap, winningSide, duration)
	if err != nil {
		ls.mu.Lock()
		m.settling = false
		ls.mu.Unlock()
		return nil, err
	}

	if err := ls.store.FinalizeMatchRecord(rec); err != nil {
		ls.mu.Lock()
		m.settling = false
		ls.mu.Unlock()
		log.Printf("❌ [LIVE] finalizing match %s: %v", matchID, err)
		return nil, NewPersistenceError("finalizing match record", err)
	}
	for _, p := range profiles {
		if err := ls.store.SaveRatingProfile(p); err != nil {
			ls.mu.Lock()
			m.settling = false
			ls.mu.Unlock()
			log.Printf("❌ [LIVE] saving rating profile %s/%s: %v", p.ParticipantID, p.Mode, err)
			return nil, NewPersistenceError("saving rating profile", err)
		}
	}

	ls.mu.Lock()
	delete(ls.matches, matchID)
	ls.mu.Unlock()

	ls.broadcast(m, "match-end", summary)
	log.Printf("🏁 [LIVE] match %s settled %d:%d (winner side %d)",
		matchID, summary.Score[0], summary.Score[1], winningSide)
	return summary, nil
}

// buildSettlement computes the summary, the final record, and the updated
// rating profiles without touching the store's state yet.
func (ls *LiveMatchService) buildSettlement(m *LiveMatch, winningSide, duration int) (*MatchSummary, *models.MatchRecord, []*models.RatingProfile, error) {
	sideMeans := [2]int{}
	sideCounts := [2]int{}
	for _, member := range m.Members {
		sideMeans[member.Side] += member.Rating
		sideCounts[member.Side]++
	}
	for side := 0; side < 2; side++ {
		if sideCounts[side] > 0 {
			sideMeans[side] /= sideCounts[side]
		}
	}

	summary := &MatchSummary{
		MatchID:     m.MatchID,
		Mode:        m.Mode,
		Score:       m.SideScores,
		WinningSide: winningSide,
		DurationSec: duration,
	}
	rec := &models.MatchRecord{
		ID:          m.MatchID,
		Mode:        m.Mode,
		Status:      models.MatchStatusCompleted,
		ScoreSide0:  m.SideScores[0],
		ScoreSide1:  m.SideScores[1],
		DurationSec: duration,
	}

	var profiles []*models.RatingProfile
	teamSize := m.Mode.TeamSize()
	for _, member := range m.Members {
		profile, err := ls.store.GetRatingProfile(member.ParticipantID, m.Mode)
		if err != nil {
			return nil, nil, nil, NewPersistenceError("loading rating profile", err)
		}

		result := 0.0
		resultLabel := "loss"
		if member.Side == winningSide {
			result = 1.0
			resultLabel = "win"
		}
		opponentMean := sideMeans[1-member.Side]
		delta := RatingDelta(profile.Rating, opponentMean, result, m.Mode, profile.GamesPlayed)

		possession := m.Possession[member.Side] / teamSize

		summary.Participants = append(summary.Participants, ParticipantSummary{
			ParticipantID: member.ParticipantID,
			DisplayName:   member.DisplayName,
			Side:          member.Side,
			Goals:         member.Goals,
			Assists:       member.Assists,
			OwnGoals:      member.OwnGoals,
			Touches:       member.Touches,
			Kicks:         member.Kicks,
			PossessionPct: possession,
			RatingBefore:  profile.Rating,
			RatingDelta:   delta,
			Result:        resultLabel,
		})
		rec.Participants = append(rec.Participants, models.MatchParticipant{
			MatchID:       m.MatchID,
			ParticipantID: member.ParticipantID,
			Side:          member.Side,
			Goals:         member.Goals,
			Assists:       member.Assists,
			OwnGoals:      member.OwnGoals,
			Touches:       member.Touches,
			Kicks:         member.Kicks,
			PossessionPct: possession,
			RatingBefore:  profile.Rating,
			RatingDelta:   delta,
			Result:        resultLabel,
		})

		profile.Rating += delta
		profile.GamesPlayed++
		profiles = append(profiles, profile)
	}

	return summary, rec, profiles, nil
}

func (ls *LiveMatchService) broadcast(m *LiveMatch, event string, payload interface{}) {
	for _, member := range m.Members {
		ls.notifier.Send(member.ParticipantID, event, payload)
	}
}

// snapshotLocked copies the match state that settlement reads. Caller holds
// the service lock.
func (m *LiveMatch) snapshotLocked() *LiveMatch {
	snap := &LiveMatch{
		MatchID:    m.MatchID,
		Mode:       m.Mode,
		SideScores: m.SideScores,
		Possession: m.Possession,
		StartedAt:  m.StartedAt,
	}
	for _, member := range m.Members {
		clone := *member
		snap.Members = append(snap.Members, &clone)
	}
	return snap
}

func (m *LiveMatch) member(participantID string) *LiveMember {
	for _, member := range m.Members {
		if member.ParticipantID == participantID {
			return member
		}
	}
	return nil
}

func (m *LiveMatch) statsPayload() map[string]interface{} {
	stats := make([]map[string]interface{}, 0, len(m.Members))
	for _, member := range m.Members {
		stats = append(stats, map[string]interface{}{
			"participant_id": member.ParticipantID,
			"touches":        member.Touches,
			"kicks":          member.Kicks,
		})
	}
	return map[string]interface{}{
		"match_id":   m.MatchID,
		"score":      m.SideScores,
		"possession": m.Possession,
		"players":    stats,
	}
}
