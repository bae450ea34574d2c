package services

import (
	"log"
	"sort"
	"sync"
	"time"

	"ranked-match-system/models"
)

// Queue tuning. Spread widening is what guarantees eventual pairing in thin
// queues, trading fairness for wait time.
const (
	baseSpread  = 100
	widenStep   = 50
	maxSpread   = 500
	widenEvery  = 10 * time.Second
	QueueTick   = 5 * time.Second
	waitShort   = 5
	waitPerSlot = 15
)

// QueueEntry is one participant waiting for a match in one mode.
type QueueEntry struct {
	ParticipantID string
	DisplayName   string
	Rating        int
	JoinedAt      time.Time
	Spread        int
	LastWidenedAt time.Time
}

// GroupMember is a participant handed from the queue to the negotiator.
type GroupMember struct {
	ParticipantID string
	DisplayName   string
	Rating        int
}

// QueueStatus is the enqueue response. The wait estimate is advisory only.
type QueueStatus struct {
	Mode             models.Mode `json:"mode"`
	Rating           int         `json:"rating"`
	EstimatedWaitSec int         `json:"estimated_wait_sec"`
}

// Negotiator receives matched groups. Implemented by ProposalService.
type Negotiator interface {
	Propose(mode models.Mode, members []GroupMember) string
}

// EligibilityChecker answers "may this participant play ranked right now".
type EligibilityChecker interface {
	CanPlayRanked(participantID string) bool
}

// ActiveMatchChecker reports whether a participant already holds state in a
// downstream stage (pending proposal, verification session, live match).
// Implemented by ProposalService, VerificationService and LiveMatchService.
type ActiveMatchChecker interface {
	HasParticipant(participantID string) bool
}

// QueueService holds one waiting pool per mode and runs the pairing pass on a
// fixed tick. All mutation happens under mu; proposal hand-off happens after
// the lock is released.
type QueueService struct {
	mu     sync.Mutex
	queues map[models.Mode][]*QueueEntry

	store       Store
	eligibility EligibilityChecker
	negotiator  Negotiator
	active      []ActiveMatchChecker

	now func() time.Time
}

func NewQueueService(store Store, eligibility EligibilityChecker) *QueueService {
	qs := &QueueService{
		queues:      make(map[models.Mode][]*QueueEntry),
		store:       store,
		eligibility: eligibility,
		now:         time.Now,
	}
	for _, mode := range models.AllModes {
		qs.queues[mode] = nil
	}
	return qs
}

// BindNegotiator wires the proposal stage in after construction (the two
// services reference each other).
func (qs *QueueService) BindNegotiator(n Negotiator) {
	qs.negotiator = n
}

// BindActiveMatchCheckers wires in the downstream stages consulted before a
// participant may queue. A participant is in at most one pending match,
// verification session or live match at a time.
func (qs *QueueService) BindActiveMatchCheckers(checkers ...ActiveMatchChecker) {
	qs.active = append(qs.active, checkers...)
}

// Enqueue adds the participant to the mode's waiting pool. One entry per
// (participant, mode).
func (qs *QueueService) Enqueue(participantID, displayName string, mode models.Mode) (*QueueStatus, error) {
	if qs.eligibility != nil && !qs.eligibility.CanPlayRanked(participantID) {
		return nil, NewPreconditionError("participant %s is not eligible for ranked play", participantID)
	}
	for _, checker := range qs.active {
		if checker.HasParticipant(participantID) {
			return nil, NewConflictError("participant %s already has an active match", participantID)
		}
	}

	profile, err := qs.store.GetRatingProfile(participantID, mode)
	if err != nil {
		return nil, NewPersistenceError("loading rating profile", err)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	for _, e := range qs.queues[mode] {
		if e.ParticipantID == participantID {
			return nil, NewConflictError("participant %s already queued for %s", participantID, mode)
		}
	}

	now := qs.now()
	entry := &QueueEntry{
		ParticipantID: participantID,
		DisplayName:   displayName,
		Rating:        profile.Rating,
		JoinedAt:      now,
		Spread:        baseSpread,
		LastWidenedAt: now,
	}
	qs.queues[mode] = append(qs.queues[mode], entry)

	return &QueueStatus{
		Mode:             mode,
		Rating:           profile.Rating,
		EstimatedWaitSec: qs.estimateWaitLocked(mode, entry),
	}, nil
}

// Requeue puts a participant back into the pool after a cancelled proposal,
// with a freshly reset spread. Idempotent against an existing entry.
func (qs *QueueService) Requeue(mode models.Mode, member GroupMember) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	for _, e := range qs.queues[mode] {
		if e.ParticipantID == member.ParticipantID {
			return
		}
	}

	now := qs.now()
	qs.queues[mode] = append(qs.queues[mode], &QueueEntry{
		ParticipantID: member.ParticipantID,
		DisplayName:   member.DisplayName,
		Rating:        member.Rating,
		JoinedAt:      now,
		Spread:        baseSpread,
		LastWidenedAt: now,
	})
}

// Dequeue removes the participant's entry for one mode, or for every mode when
// mode is nil. Idempotent, never fails.
func (qs *QueueService) Dequeue(participantID string, mode *models.Mode) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	targets := models.AllModes
	if mode != nil {
		targets = []models.Mode{*mode}
	}
	for _, m := range targets {
		q := qs.queues[m]
		for i, e := range q {
			if e.ParticipantID == participantID {
				qs.queues[m] = append(q[:i], q[i+1:]...)
				break
			}
		}
	}
}

// Queued reports whether the participant has an entry for the mode.
func (qs *QueueService) Queued(participantID string, mode models.Mode) bool {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	for _, e := range qs.queues[mode] {
		if e.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// ProcessMode runs one pairing pass for a mode: widen stale spreads, collect
// compatible groups, and hand them to the negotiator. Entries leave the queue
// at hand-off, not before.
func (qs *QueueService) ProcessMode(mode models.Mode) {
	qs.mu.Lock()
	qs.widenSpreadsLocked(mode)

	var groups [][]GroupMember
	if mode.TeamSize() == 1 {
		groups = qs.pairHeadToHeadLocked(mode)
	} else {
		groups = qs.pairTeamsLocked(mode)
	}
	qs.mu.Unlock()

	for _, group := range groups {
		if qs.negotiator == nil {
			log.Printf("⚠️ [QUEUE] no negotiator bound, dropping %s group of %d", mode, len(group))
			continue
		}
		proposalID := qs.negotiator.Propose(mode, group)
		log.Printf("🎮 [QUEUE] proposed %s match %s with %d players", mode, proposalID, len(group))
	}
}

func (qs *QueueService) widenSpreadsLocked(mode models.Mode) {
	now := qs.now()
	for _, e := range qs.queues[mode] {
		if e.Spread >= maxSpread {
			continue
		}
		if now.Sub(e.LastWidenedAt) < widenEvery {
			continue
		}
		e.Spread += widenStep
		if e.Spread > maxSpread {
			e.Spread = maxSpread
		}
		e.LastWidenedAt = now
	}
}

func compatible(a, b *QueueEntry) bool {
	dist := a.Rating - b.Rating
	if dist < 0 {
		dist = -dist
	}
	limit := a.Spread
	if b.Spread < limit {
		limit = b.Spread
	}
	return dist <= limit
}

// pairHeadToHeadLocked scans in ascending join order and pairs each entry with
// the first later compatible one, restarting after every removal. Greedy on
// purpose: low latency over optimal fairness.
func (qs *QueueService) pairHeadToHeadLocked(mode models.Mode) [][]GroupMember {
	var groups [][]GroupMember

restart:
	q := qs.queues[mode]
	for i := 0; i < len(q); i++ {
		for j := i + 1; j < len(q); j++ {
			if !compatible(q[i], q[j]) {
				continue
			}
			groups = append(groups, []GroupMember{
				{ParticipantID: q[i].ParticipantID, DisplayName: q[i].DisplayName, Rating: q[i].Rating},
				{ParticipantID: q[j].ParticipantID, DisplayName: q[j].DisplayName, Rating: q[j].Rating},
			})
			qs.removeLocked(mode, q[i].ParticipantID, q[j].ParticipantID)
			goto restart
		}
	}
	return groups
}

// pairTeamsLocked sorts by rating and slides a window of the full group size,
// accepting the first window where every pair is mutually within spread.
func (qs *QueueService) pairTeamsLocked(mode models.Mode) [][]GroupMember {
	size := mode.GroupSize()
	var groups [][]GroupMember

restart:
	q := qs.queues[mode]
	if len(q) < size {
		return groups
	}

	sorted := make([]*QueueEntry, len(q))
	copy(sorted, q)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rating < sorted[j].Rating })

	for start := 0; start+size <= len(sorted); start++ {
		window := sorted[start : start+size]
		if !windowCompatible(window) {
			continue
		}
		group := make([]GroupMember, 0, size)
		ids := make([]string, 0, size)
		for _, e := range window {
			group = append(group, GroupMember{
				ParticipantID: e.ParticipantID,
				DisplayName:   e.DisplayName,
				Rating:        e.Rating,
			})
			ids = append(ids, e.ParticipantID)
		}
		groups = append(groups, group)
		qs.removeLocked(mode, ids...)
		goto restart
	}
	return groups
}

func windowCompatible(window []*QueueEntry) bool {
	for i := 0; i < len(window); i++ {
		for j := i + 1; j < len(window); j++ {
			if !compatible(window[i], window[j]) {
				return false
			}
		}
	}
	return true
}

func (qs *QueueService) removeLocked(mode models.Mode, participantIDs ...string) {
	drop := make(map[string]bool, len(participantIDs))
	for _, id := range participantIDs {
		drop[id] = true
	}
	q := qs.queues[mode][:0]
	for _, e := range qs.queues[mode] {
		if !drop[e.ParticipantID] {
			q = append(q, e)
		}
	}
	qs.queues[mode] = q
}

// estimateWaitLocked is a heuristic: a short constant when enough compatible
// entries already wait to fill a group, otherwise scaled by the missing count.
func (qs *QueueService) estimateWaitLocked(mode models.Mode, entry *QueueEntry) int {
	needed := mode.GroupSize() - 1
	compatibleCount := 0
	for _, e := range qs.queues[mode] {
		if e.ParticipantID == entry.ParticipantID {
			continue
		}
		if compatible(entry, e) {
			compatibleCount++
		}
	}
	if compatibleCount >= needed {
		return waitShort
	}
	return waitPerSlot * (needed - compatibleCount)
}
