package storage

import "time"

// User is the persisted state of one tracked group member
type User struct {
	RobloxID  string
	DiscordID string // empty until the member is linked

	XP        int
	Raids     int
	Defenses  int
	Scrims    int
	Trainings int

	LastActivity *time.Time
	LastRaid     *time.Time
	LastDefense  *time.Time
	LastScrim    *time.Time
	LastTraining *time.Time

	SuspendedUntil *time.Time
	Banned         bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserUpdate holds the fields to change on a user; nil fields are left alone
type UserUpdate struct {
	XP             *int
	Raids          *int
	Defenses       *int
	Scrims         *int
	Trainings      *int
	LastActivity   *time.Time
	LastRaid       *time.Time
	LastDefense    *time.Time
	LastScrim      *time.Time
	LastTraining   *time.Time
	SuspendedUntil *time.Time
	Banned         *bool
}

// XPLog records a single XP grant or deduction
type XPLog struct {
	ID        int64
	RobloxID  string
	Amount    int
	Reason    string
	GrantedBy string // Discord user ID
	CreatedAt time.Time
}

// AuditEntry is one row of the moderation audit trail
type AuditEntry struct {
	ID        string
	Action    string
	ActorID   string
	TargetID  string
	Detail    string
	CreatedAt time.Time
}
