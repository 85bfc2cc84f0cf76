package domain

import (
	"fmt"
	"slices"
	"time"
)

type PKID string

type PKStatus string

const (
	PKPending  PKStatus = "pending"
	PKAccepted PKStatus = "accepted"
	PKDeclined PKStatus = "declined"
	PKExpired  PKStatus = "expired"
)

func (s PKStatus) Terminal() bool { return s != PKPending }

// PKDurations are the battle lengths a challenger may pick.
var PKDurations = []time.Duration{
	time.Minute,
	3 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

const DefaultPKDuration = 5 * time.Minute

func ValidatePKDuration(d time.Duration) error {
	if !slices.Contains(PKDurations, d) {
		return fmt.Errorf("pk duration %s not allowed", d)
	}
	return nil
}

// PKChallenge is a battle invitation between two broadcasters. Once Status
// leaves pending the value is never modified again.
type PKChallenge struct {
	ID             PKID          `json:"pkId"`
	Challenger     User          `json:"challenger"`
	Opponent       UserID        `json:"opponent"`
	Duration       time.Duration `json:"duration"`
	AcceptDeadline time.Time     `json:"acceptDeadline"`
	Status         PKStatus      `json:"status"`
	ResolvedAt     time.Time     `json:"resolvedAt,omitzero"`
}

// Declined reports whether the challenge ended without a battle.
func (c PKChallenge) Declined() bool {
	return c.Status == PKDeclined || c.Status == PKExpired
}
