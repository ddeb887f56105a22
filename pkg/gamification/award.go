package gamification

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Award is the message sent to the gamification service.
type Award struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Points    int       `json:"points"`
	Reason    string    `json:"reason"`
	AwardedAt time.Time `json:"awarded_at"`
}

// NewAward validates the fields and stamps an ID and time.
func NewAward(userID string, points int, reason string, now time.Time) (Award, error) {
	if userID == "" {
		return Award{}, fmt.Errorf("%w: user id is required", ErrInvalidAward)
	}
	if points <= 0 {
		return Award{}, fmt.Errorf("%w: points must be positive, got %d", ErrInvalidAward, points)
	}
	return Award{
		ID:        uuid.NewString(),
		UserID:    userID,
		Points:    points,
		Reason:    reason,
		AwardedAt: now.UTC(),
	}, nil
}
