package models

// Match lifecycle statuses. A record is created at proposal acceptance and is
// the source of truth once the in-memory match state is discarded.
const (
	MatchStatusPending    = "pending"
	MatchStatusVerifying  = "verifying"
	MatchStatusInProgress = "in_progress"
	MatchStatusCompleted  = "completed"
	MatchStatusCancelled  = "cancelled"
)

// MatchRecord is the durable representation of a ranked match.
type MatchRecord struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	Mode   Mode   `gorm:"type:varchar(8);index;not null" json:"mode"`
	Status string `json:"status" gorm:"type:varchar(16);index;check:status IN ('pending','verifying','in_progress','completed','cancelled')"`

	ScoreSide0  int `json:"score_side_0" gorm:"default:0"`
	ScoreSide1  int `json:"score_side_1" gorm:"default:0"`
	DurationSec int `json:"duration_sec" gorm:"default:0"`

	// Set only for cancelled matches.
	CancelReason string  `json:"cancel_reason,omitempty" gorm:"type:varchar(64)"`
	FailedBy     *string `json:"failed_by,omitempty"`

	Participants []MatchParticipant `gorm:"foreignKey:MatchID" json:"participants,omitempty"`

	Timestamps
}

// MatchParticipant records one player's membership and per-match stats.
type MatchParticipant struct {
	ID            string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	MatchID       string `gorm:"index;not null" json:"match_id"`
	ParticipantID string `gorm:"index;not null" json:"participant_id"`
	Side          int    `json:"side"`

	Goals         int `json:"goals" gorm:"default:0"`
	Assists       int `json:"assists" gorm:"default:0"`
	OwnGoals      int `json:"own_goals" gorm:"default:0"`
	Touches       int `json:"touches" gorm:"default:0"`
	Kicks         int `json:"kicks" gorm:"default:0"`
	PossessionPct int `json:"possession_pct" gorm:"default:0"`

	// Filled at settlement.
	RatingBefore int    `json:"rating_before" gorm:"default:0"`
	RatingDelta  int    `json:"rating_delta" gorm:"default:0"`
	Result       string `json:"result" gorm:"type:varchar(16);check:result IN ('','win','loss','draw','incomplete')"`

	Timestamps
}
