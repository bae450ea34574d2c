package models

// Rating bounds shared by the rating engine and the profile endpoints.
const (
	MinRating     = 0
	MaxRating     = 3000
	InitialRating = 1000
)

// RatingProfile is the per (participant, mode) skill estimate. Mutated only at
// match settlement; never mid-match.
type RatingProfile struct {
	ID            string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ParticipantID string `gorm:"uniqueIndex:idx_participant_mode;not null" json:"participant_id"`
	Mode          Mode   `gorm:"uniqueIndex:idx_participant_mode;type:varchar(8);not null" json:"mode"`

	Rating      int `json:"rating" gorm:"default:1000"`
	GamesPlayed int `json:"games_played" gorm:"default:0"`

	Timestamps
}
