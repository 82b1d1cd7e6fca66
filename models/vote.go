package models

import "time"

// Vote is a voter's single active vote on a target item. Weight is frozen at cast time.
type Vote struct {
	VoterID   string    `gorm:"primaryKey;size:64" json:"voter_id"`
	TargetID  string    `gorm:"primaryKey;size:128;index" json:"target_id"`
	Weight    int       `gorm:"not null;default:0" json:"weight"`
	Tier      string    `gorm:"size:16" json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
