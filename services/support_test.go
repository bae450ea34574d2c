package services

import (
	"sync"
	"time"

	"ranked-match-system/models"
)

// fakeStore is the in-memory Store used by the state-machine tests.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]*models.MatchRecord
	profiles map[string]*models.RatingProfile

	// When set, every method fails with this error.
	err error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string]*models.MatchRecord),
		profiles: make(map[string]*models.RatingProfile),
	}
}

func profileKey(participantID string, mode models.Mode) string {
	return participantID + "|" + string(mode)
}

func (s *fakeStore) CreateMatchRecord(rec *models.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	clone := *rec
	clone.UpdatedAt = time.Now()
	s.records[rec.ID] = &clone
	return nil
}

func (s *fakeStore) UpdateMatchStatus(matchID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if rec, ok := s.records[matchID]; ok {
		rec.Status = status
		rec.UpdatedAt = time.Now()
	}
	return nil
}

func (s *fakeStore) CancelMatchRecord(matchID, reason string, failedBy *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	rec, ok := s.records[matchID]
	if !ok {
		rec = &models.MatchRecord{ID: matchID}
		s.records[matchID] = rec
	}
	rec.Status = models.MatchStatusCancelled
	rec.CancelReason = reason
	rec.FailedBy = failedBy
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) FinalizeMatchRecord(rec *models.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	clone := *rec
	clone.UpdatedAt = time.Now()
	s.records[rec.ID] = &clone
	return nil
}

func (s *fakeStore) GetRatingProfile(participantID string, mode models.Mode) (*models.RatingProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if p, ok := s.profiles[profileKey(participantID, mode)]; ok {
		clone := *p
		return &clone, nil
	}
	return &models.RatingProfile{
		ParticipantID: participantID,
		Mode:          mode,
		Rating:        models.InitialRating,
	}, nil
}

func (s *fakeStore) SaveRatingProfile(profile *models.RatingProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	clone := *profile
	s.profiles[profileKey(profile.ParticipantID, profile.Mode)] = &clone
	return nil
}

func (s *fakeStore) ListStaleActiveMatchIDs(olderThan time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var ids []string
	for id, rec := range s.records {
		switch rec.Status {
		case models.MatchStatusPending, models.MatchStatusVerifying, models.MatchStatusInProgress:
			if rec.UpdatedAt.Before(olderThan) {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (s *fakeStore) record(matchID string) *models.MatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[matchID]
}

func (s *fakeStore) profile(participantID string, mode models.Mode) *models.RatingProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[profileKey(participantID, mode)]
}

func (s *fakeStore) setProfile(p models.RatingProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profileKey(p.ParticipantID, p.Mode)] = &p
}

// sentEvent is one recorded push.
type sentEvent struct {
	To      string
	Name    string
	Payload interface{}
}

// recordingNotifier captures pushes instead of delivering them.
type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Send(participantID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{To: participantID, Name: event, Payload: payload})
}

func (n *recordingNotifier) named(event string) []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentEvent
	for _, e := range n.events {
		if e.Name == event {
			out = append(out, e)
		}
	}
	return out
}

func (n *recordingNotifier) sentTo(participantID, event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.To == participantID && e.Name == event {
			return true
		}
	}
	return false
}

// stubNegotiator records groups handed off by the queue.
type stubNegotiator struct {
	mu     sync.Mutex
	groups [][]GroupMember
}

func (s *stubNegotiator) Propose(mode models.Mode, members []GroupMember) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, members)
	return "proposal-stub"
}

func (s *stubNegotiator) proposed() [][]GroupMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]GroupMember(nil), s.groups...)
}

// stubRequeuer records re-enqueued members.
type stubRequeuer struct {
	mu      sync.Mutex
	members []GroupMember
}

func (s *stubRequeuer) Requeue(mode models.Mode, member GroupMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = append(s.members, member)
}

func (s *stubRequeuer) requeued(participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// stubVerification records Begin calls from the proposal stage.
type stubVerification struct {
	mu      sync.Mutex
	matches []string
	members [][]SessionMember
}

func (s *stubVerification) Begin(matchID string, mode models.Mode, members []SessionMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, matchID)
	s.members = append(s.members, members)
	return nil
}

func (s *stubVerification) began() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.matches...)
}

// stubStarter records Start calls from the verification stage.
type stubStarter struct {
	mu      sync.Mutex
	matches []string
}

func (s *stubStarter) Start(matchID string, mode models.Mode, members []SessionMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, matchID)
}

func (s *stubStarter) started() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.matches...)
}

// allowAll is the eligibility stub that lets everyone queue.
type allowAll struct{}

func (allowAll) CanPlayRanked(string) bool { return true }

// denyList bars specific participants.
type denyList map[string]bool

func (d denyList) CanPlayRanked(id string) bool { return !d[id] }

// stubActiveChecker marks participants as holding downstream match state.
type stubActiveChecker map[string]bool

func (s stubActiveChecker) HasParticipant(id string) bool { return s[id] }
