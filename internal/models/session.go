package models

import "time"

// ChatSession is the durable record of one conversation. ID is the stable
// external key handed to clients; ThreadID keys the execution checkpoint.
type ChatSession struct {
	ID         string    `gorm:"primaryKey;size:36"`
	ThreadID   string    `gorm:"size:36;not null;uniqueIndex"`
	OwnerID    *string   `gorm:"size:36;index"` // set once by the first profile upload
	NeedsReset bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time `gorm:"index"`

	Turns []Turn `gorm:"foreignKey:SessionID"`
}

// Turn kinds. Payload shape depends on the kind.
const (
	KindText             = "text"
	KindApprovalRequest  = "approval_request"
	KindProfileSummary   = "profile_summary"
	KindResultSelection  = "result_selection"
	KindEnrichedResults  = "enriched_results"
	KindOnboardingPrompt = "onboarding_prompt"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single message in a session. Sequence is strictly increasing per
// session; the pair (SessionID, Sequence) is unique.
type Turn struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"size:36;not null;uniqueIndex:idx_turn_session_seq"`
	Sequence  int       `gorm:"not null;uniqueIndex:idx_turn_session_seq"`
	Role      string    `gorm:"size:16;not null"` // user, assistant
	Kind      string    `gorm:"size:32;not null;default:text"`
	Content   string    `gorm:"type:text;not null"`
	Payload   string    `gorm:"type:text"` // JSON object keyed by Kind
	CreatedAt time.Time
}

// Checkpoint holds the serialized continuation of a suspended run.
type Checkpoint struct {
	ThreadID  string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"size:36;not null;index"`
	RunID     string `gorm:"size:36;not null"`
	Version   int    `gorm:"not null"`
	Data      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// Interrupt statuses.
const (
	InterruptPending    = "pending"
	InterruptApproved   = "approved"
	InterruptRejected   = "rejected"
	InterruptSuperseded = "superseded"
	InterruptExpired    = "expired"
)

// Interrupt records an approval request raised by a gated worker call.
type Interrupt struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	SessionID   string    `gorm:"size:36;not null;index:idx_interrupt_session_status"`
	RunID       string    `gorm:"size:36;not null"`
	Action      string    `gorm:"size:512;not null"`
	Status      string    `gorm:"size:16;not null;default:pending;index:idx_interrupt_session_status"` // pending, approved, rejected, superseded, expired
	RequestedAt time.Time `gorm:"not null"`
	ResolvedAt  *time.Time
}

// RunLock statuses.
const (
	LockActive   = "active"
	LockReleased = "released"
)

// RunLock is the per-session single-writer lock. One row per session; the
// row is re-armed on every acquisition.
type RunLock struct {
	SessionID     string    `gorm:"primaryKey;size:36"`
	RunID         string    `gorm:"size:36"`
	Status        string    `gorm:"size:16;not null;default:released;index"` // active, released
	LastHeartbeat time.Time `gorm:"index"`
	AcquiredAt    time.Time
	ReleasedAt    *time.Time
}
