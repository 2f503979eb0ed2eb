package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type SessionModel struct {
	ID            string `gorm:"primaryKey"`
	Variant       string `gorm:"not null;index"`
	CurrentStepID string
	Answers       datatypes.JSON `gorm:"type:jsonb"`
	Email         string         `gorm:"index"`
	EmailOptIn    bool
	Completed     bool      `gorm:"index"`
	Seq           int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type RecordingModel struct {
	ID              string `gorm:"primaryKey"`
	SessionID       string `gorm:"not null;index"`
	StepID          string `gorm:"not null"`
	StorageKey      string `gorm:"not null"`
	Filename        string
	DurationSeconds float64
	SizeBytes       int64
	Transcript      string         `gorm:"type:text"`
	Extracted       datatypes.JSON `gorm:"type:jsonb"`
	Status          string         `gorm:"not null;index"`
	ErrorMessage    string
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type TagModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	Color     string
	CreatedAt time.Time `gorm:"not null"`
}

type SessionTagModel struct {
	SessionID string `gorm:"primaryKey"`
	TagID     string `gorm:"primaryKey;index"`
	CreatedAt time.Time
}

type NoteModel struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"not null;index"`
	Author    string
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}
