package services

import (
	"log"
	"sort"
	"sync"
	"time"

	"ranked-match-system/models"

	"github.com/google/uuid"
)

// DefaultAcceptTimeout is how long a pending match waits for unanimous
// acceptance before it is voided.
const DefaultAcceptTimeout = 20 * time.Second

// ProposalMember is one participant of a pending match.
type ProposalMember struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Rating        int    `json:"rating"`
	Accepted      bool   `json:"accepted"`
}

// PendingMatch is a tentative grouping awaiting unanimous acceptance.
type PendingMatch struct {
	ID        string
	Mode      models.Mode
	Members   []*ProposalMember
	CreatedAt time.Time
	Deadline  time.Time

	timer *time.Timer
	done  bool // set once the proposal resolved; makes a late timer fire a no-op
}

// VerificationStarter receives fully-accepted matches. Implemented by
// VerificationService.
type VerificationStarter interface {
	Begin(matchID string, mode models.Mode, members []SessionMember) error
}

// Requeuer puts cooperative members back into the waiting pool after a
// cancelled proposal. Implemented by QueueService.
type Requeuer interface {
	Requeue(mode models.Mode, member GroupMember)
}

// ProposalService negotiates mutual acceptance of a candidate group. A
// participant is in at most one pending match at a time.
type ProposalService struct {
	mu            sync.Mutex
	proposals     map[string]*PendingMatch
	byParticipant map[string]string // participant id -> proposal id

	queue         Requeuer
	verification  VerificationStarter
	store         Store
	notifier      Notifier
	acceptTimeout time.Duration

	now func() time.Time
}

func NewProposalService(store Store, notifier Notifier, queue Requeuer) *ProposalService {
	return &ProposalService{
		proposals:     make(map[string]*PendingMatch),
		byParticipant: make(map[string]string),
		queue:         queue,
		store:         store,
		notifier:      notifier,
		acceptTimeout: DefaultAcceptTimeout,
		now:           time.Now,
	}
}

// BindVerification wires the verification stage in after construction.
func (ps *ProposalService) BindVerification(v VerificationStarter) {
	ps.verification = v
}

type proposalRoster struct {
	ProposalID string            `json:"proposal_id"`
	Mode       models.Mode       `json:"mode"`
	Members    []*ProposalMember `json:"members"`
	Deadline   time.Time         `json:"deadline"`
}

// Propose turns a matched group into a pending match and notifies every
// member. Returns the proposal id.
func (ps *ProposalService) Propose(mode models.Mode, members []GroupMember) string {
	now := ps.now()
	p := &PendingMatch{
		ID:        uuid.NewString(),
		Mode:      mode,
		CreatedAt: now,
		Deadline:  now.Add(ps.acceptTimeout),
	}
	for _, m := range members {
		p.Members = append(p.Members, &ProposalMember{
			ParticipantID: m.ParticipantID,
			DisplayName:   m.DisplayName,
			Rating:        m.Rating,
		})
	}

	ps.mu.Lock()
	ps.proposals[p.ID] = p
	for _, m := range p.Members {
		ps.byParticipant[m.ParticipantID] = p.ID
	}
	p.timer = time.AfterFunc(ps.acceptTimeout, func() { ps.expire(p.ID) })
	ps.mu.Unlock()

	roster := proposalRoster{ProposalID: p.ID, Mode: mode, Members: p.Members, Deadline: p.Deadline}
	for _, m := range p.Members {
		ps.notifier.Send(m.ParticipantID, "match-found", roster)
	}
	return p.ID
}

// Accept marks the caller accepted. When the last member accepts, the proposal
// is promoted: the durable match record is created and the group is handed to
// verification.
func (ps *ProposalService) Accept(proposalID, participantID string) (bool, error) {
	ps.mu.Lock()
	p, ok := ps.proposals[proposalID]
	if !ok {
		ps.mu.Unlock()
		return false, NewNotFoundError("proposal %s not found", proposalID)
	}

	member := p.member(participantID)
	if member == nil {
		ps.mu.Unlock()
		return false, NewValidationError("participant %s is not a member of proposal %s", participantID, proposalID)
	}
	member.Accepted = true

	if !p.allAccepted() {
		ps.mu.Unlock()
		return false, nil
	}
	if p.done {
		ps.mu.Unlock()
		return false, NewConflictError("proposal %s is already being finalized", proposalID)
	}

	// Last accept: block the deadline timer and concurrent declines, but keep
	// the proposal registered until the durable record exists so a failed
	// write can be retried with another accept.
	p.done = true
	p.timer.Stop()
	ps.mu.Unlock()

	if err := ps.promote(p); err != nil {
		ps.mu.Lock()
		p.done = false
		ps.mu.Unlock()
		return true, err
	}

	ps.mu.Lock()
	ps.resolveLocked(p)
	ps.mu.Unlock()
	return true, nil
}

// Decline voids the proposal immediately, regardless of other members'
// acceptance state.
func (ps *ProposalService) Decline(proposalID, participantID string) error {
	ps.mu.Lock()
	p, ok := ps.proposals[proposalID]
	if !ok {
		ps.mu.Unlock()
		return NewNotFoundError("proposal %s not found", proposalID)
	}
	if p.member(participantID) == nil {
		ps.mu.Unlock()
		return NewValidationError("participant %s is not a member of proposal %s", participantID, proposalID)
	}
	if p.done {
		ps.mu.Unlock()
		return NewConflictError("proposal %s is already being finalized", proposalID)
	}
	ps.resolveLocked(p)
	ps.mu.Unlock()

	ps.cancel(p, "declined-by:"+participantID, participantID)
	return nil
}

// expire fires from the deadline timer. A proposal that already resolved is
// left alone.
func (ps *ProposalService) expire(proposalID string) {
	ps.mu.Lock()
	p, ok := ps.proposals[proposalID]
	if !ok || p.done {
		ps.mu.Unlock()
		return
	}
	ps.resolveLocked(p)
	ps.mu.Unlock()

	ps.cancel(p, "timeout", "")
}

// HasParticipant reports whether the participant is in a live proposal.
func (ps *ProposalService) HasParticipant(participantID string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, ok := ps.byParticipant[participantID]
	return ok
}

func (ps *ProposalService) resolveLocked(p *PendingMatch) {
	p.done = true
	p.timer.Stop()
	delete(ps.proposals, p.ID)
	for _, m := range p.Members {
		delete(ps.byParticipant, m.ParticipantID)
	}
}

// cancel notifies every member of the voided proposal and re-enqueues the
// members who had accepted. The decliner is never re-enqueued; on timeout the
// silent members are not re-enqueued either.
func (ps *ProposalService) cancel(p *PendingMatch, reason, declinerID string) {
	for _, m := range p.Members {
		ps.notifier.Send(m.ParticipantID, "match-cancelled", map[string]interface{}{
			"proposal_id": p.ID,
			"reason":      reason,
		})
	}
	for _, m := range p.Members {
		if !m.Accepted || m.ParticipantID == declinerID {
			continue
		}
		ps.queue.Requeue(p.Mode, GroupMember{
			ParticipantID: m.ParticipantID,
			DisplayName:   m.DisplayName,
			Rating:        m.Rating,
		})
		ps.notifier.Send(m.ParticipantID, "requeued", map[string]interface{}{
			"mode": p.Mode,
		})
	}
	log.Printf("🚫 [PROPOSAL] %s voided (%s)", p.ID, reason)
}

// promote persists the match record and hands the group to verification. The
// write is awaited before anyone is notified.
func (ps *ProposalService) promote(p *PendingMatch) error {
	matchID := uuid.NewString()
	sessionMembers := assignSides(p.Mode, p.Members)

	rec := &models.MatchRecord{
		ID:     matchID,
		Mode:   p.Mode,
		Status: models.MatchStatusPending,
	}
	for _, m := range sessionMembers {
		rec.Participants = append(rec.Participants, models.MatchParticipant{
			MatchID:       matchID,
			ParticipantID: m.ParticipantID,
			Side:          m.Side,
		})
	}
	if err := ps.store.CreateMatchRecord(rec); err != nil {
		log.Printf("❌ [PROPOSAL] persisting match record for %s: %v", p.ID, err)
		return NewPersistenceError("creating match record", err)
	}

	for _, m := range p.Members {
		ps.notifier.Send(m.ParticipantID, "all-accepted", map[string]interface{}{
			"proposal_id": p.ID,
			"match_id":    matchID,
		})
	}

	if err := ps.verification.Begin(matchID, p.Mode, sessionMembers); err != nil {
		return err
	}
	return nil
}

// assignSides balances the two sides by snaking through the rating-sorted
// group: 1st strongest to side 0, next two to side 1, and so on.
func assignSides(mode models.Mode, members []*ProposalMember) []SessionMember {
	sorted := make([]*ProposalMember, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rating > sorted[j].Rating })

	sides := make([]SessionMember, 0, len(sorted))
	snake := []int{0, 1, 1, 0, 0, 1}
	for i, m := range sorted {
		sides = append(sides, SessionMember{
			ParticipantID: m.ParticipantID,
			DisplayName:   m.DisplayName,
			Rating:        m.Rating,
			Side:          snake[i%len(snake)],
		})
	}
	return sides
}

func (p *PendingMatch) member(participantID string) *ProposalMember {
	for _, m := range p.Members {
		if m.ParticipantID == participantID {
			return m
		}
	}
	return nil
}

func (p *PendingMatch) allAccepted() bool {
	for _, m := range p.Members {
		if !m.Accepted {
			return false
		}
	}
	return true
}
