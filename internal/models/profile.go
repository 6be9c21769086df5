package models

import "time"

// Owner is the identity minted when a session first establishes a profile.
type Owner struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:128"`
	CreatedAt time.Time
}

// Profile is the structured summary extracted from an uploaded document.
type Profile struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID         string `gorm:"size:36;not null;uniqueIndex"`
	Skills          string `gorm:"type:text"` // JSON array
	ExperienceYears int
	Titles          string `gorm:"type:text"` // JSON array
	Summary         string `gorm:"type:text"`
	RawText         string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Preferences narrows searches for an owner.
type Preferences struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID      string `gorm:"size:36;not null;uniqueIndex"`
	LocationType string `gorm:"size:16;not null;default:any"` // any, remote, hybrid, onsite
	TargetRoles  string `gorm:"type:text"`                    // JSON array
	ExcludedOrgs string `gorm:"type:text"`                    // JSON array
	MinSalary    int
	UpdatedAt    time.Time
}
