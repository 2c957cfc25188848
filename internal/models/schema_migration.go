package models

import "time"

// SchemaMigration records an applied schema version.
type SchemaMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"` // Migration version.
	Name      string    `gorm:"type:varchar(255);not null"`     // Migration name.
	AppliedAt time.Time `gorm:"not null"`                       // When it was applied.
}
