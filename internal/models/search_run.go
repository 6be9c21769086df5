package models

import "time"

// SearchRun is one unattended Quick-Match execution for an owner.
type SearchRun struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID     string `gorm:"size:36;not null;index"`
	Trigger     string `gorm:"size:16;not null"`                       // cron, manual
	Status      string `gorm:"size:16;not null;default:pending;index"` // pending, running, completed, failed
	ResultCount int
	Error       string `gorm:"type:text"`
	CreatedAt   time.Time
	CompletedAt *time.Time

	Results []SearchResult `gorm:"foreignKey:RunID"`
}

// SearchResult is a ranked candidate produced by a SearchRun.
type SearchResult struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	RunID         uint   `gorm:"not null;index"`
	Title         string `gorm:"size:256;not null"`
	Org           string `gorm:"size:256"`
	Score         int    `gorm:"not null"`
	Reason        string `gorm:"size:256"`
	Locator       string `gorm:"size:1024;not null"`
	LocationClass string `gorm:"size:16"`
	CreatedAt     time.Time
}
