package services

import (
	"errors"
	"time"

	"ranked-match-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the durable record boundary. The orchestrator is the only writer
// during a match's active lifetime; everything behind this interface must be
// awaited before participants are notified of the transition it records.
type Store interface {
	CreateMatchRecord(rec *models.MatchRecord) error
	UpdateMatchStatus(matchID, status string) error
	CancelMatchRecord(matchID, reason string, failedBy *string) error
	FinalizeMatchRecord(rec *models.MatchRecord) error
	GetRatingProfile(participantID string, mode models.Mode) (*models.RatingProfile, error)
	SaveRatingProfile(profile *models.RatingProfile) error
	ListStaleActiveMatchIDs(olderThan time.Time) ([]string, error)
}

// GormStore backs Store with postgres.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) CreateMatchRecord(rec *models.MatchRecord) error {
	return s.DB.Create(rec).Error
}

func (s *GormStore) UpdateMatchStatus(matchID, status string) error {
	return s.DB.Model(&models.MatchRecord{}).
		Where("id = ?", matchID).
		Update("status", status).Error
}

func (s *GormStore) CancelMatchRecord(matchID, reason string, failedBy *string) error {
	updates := map[string]interface{}{
		"status":        models.MatchStatusCancelled,
		"cancel_reason": reason,
	}
	if failedBy != nil {
		updates["failed_by"] = *failedBy
	}
	return s.DB.Model(&models.MatchRecord{}).
		Where("id = ?", matchID).
		Updates(updates).Error
}

// FinalizeMatchRecord writes the terminal scores and per-participant stats in
// one transaction.
func (s *GormStore) FinalizeMatchRecord(rec *models.MatchRecord) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":       rec.Status,
			"score_side_0": rec.ScoreSide0,
			"score_side_1": rec.ScoreSide1,
			"duration_sec": rec.DurationSec,
		}
		if err := tx.Model(&models.MatchRecord{}).
			Where("id = ?", rec.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		for _, p := range rec.Participants {
			err := tx.Model(&models.MatchParticipant{}).
				Where("match_id = ? AND participant_id = ?", rec.ID, p.ParticipantID).
				Updates(map[string]interface{}{
					"goals":          p.Goals,
					"assists":        p.Assists,
					"own_goals":      p.OwnGoals,
					"touches":        p.Touches,
					"kicks":          p.Kicks,
					"possession_pct": p.PossessionPct,
					"rating_before":  p.RatingBefore,
					"rating_delta":   p.RatingDelta,
					"result":         p.Result,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRatingProfile returns the stored profile, or an unsaved default-rated one
// when the participant has never settled a match in this mode.
func (s *GormStore) GetRatingProfile(participantID string, mode models.Mode) (*models.RatingProfile, error) {
	var profile models.RatingProfile
	err := s.DB.Where("participant_id = ? AND mode = ?", participantID, mode).
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.RatingProfile{
			ParticipantID: participantID,
			Mode:          mode,
			Rating:        models.InitialRating,
			GamesPlayed:   0,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *GormStore) SaveRatingProfile(profile *models.RatingProfile) error {
	return s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "participant_id"}, {Name: "mode"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"rating", "games_played", "updated_at",
		}),
	}).Create(profile).Error
}

// ListStaleActiveMatchIDs returns matches still marked active in the store that
// were last updated before the cutoff. Used by the reconciliation sweep.
func (s *GormStore) ListStaleActiveMatchIDs(olderThan time.Time) ([]string, error) {
	var ids []string
	err := s.DB.Model(&models.MatchRecord{}).
		Where("status IN ?", []string{
			models.MatchStatusPending,
			models.MatchStatusVerifying,
			models.MatchStatusInProgress,
		}).
		Where("updated_at < ?", olderThan).
		Pluck("id", &ids).Error
	return ids, err
}
