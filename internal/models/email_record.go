package models

import (
	"time"

	"gorm.io/datatypes"
)

// Generation modes recorded in the history.
const (
	ModeGenerate  = "generate"
	ModeImprove   = "improve"
	ModeReply     = "reply"
	ModeExtension = "extension"
)

// EmailRecord stores one successful, credited generation.
type EmailRecord struct {
	ID           string `gorm:"type:varchar(36);primaryKey"` // UUID.
	AccountEmail string `gorm:"type:text;not null;index"`    // Owning account.
	Mode         string `gorm:"type:varchar(32);not null"`   // generate | improve | reply | extension.

	Type          string `gorm:"type:text"` // Requested e-mail type.
	Tone          string `gorm:"type:text"` // Requested tone.
	Language      string `gorm:"type:text"` // Requested language.
	Goal          string `gorm:"type:text"` // Requested goal.
	Context       string `gorm:"type:text"` // Free-form context.
	OriginalEmail string `gorm:"type:text"` // Input e-mail for improve/reply.
	Result        string `gorm:"type:text"` // Generated text.

	Model            string         `gorm:"type:varchar(128)"`  // LLM model used.
	PromptTokens     int            `gorm:"not null;default:0"` // Prompt token count.
	CompletionTokens int            `gorm:"not null;default:0"` // Completion token count.
	Options          datatypes.JSON `gorm:"type:json"`          // Extra request options.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
