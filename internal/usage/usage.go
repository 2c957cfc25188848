package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailcoach-ai/mailcoach/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Record describes one successful, credited generation.
type Record struct {
	AccountEmail     string
	Mode             string
	Type             string
	Tone             string
	Language         string
	Goal             string
	Context          string
	OriginalEmail    string
	Result           string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Options          map[string]any
	RequestedAt      time.Time
}

// Recorder persists generation history.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder backed by GORM.
func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

// Record stores the generation. Failures are logged and never returned, so the
// caller's already-credited request is not affected.
func (r *Recorder) Record(ctx context.Context, record Record) {
	if r == nil || r.db == nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var options datatypes.JSON
	if len(record.Options) > 0 {
		raw, errMarshal := json.Marshal(record.Options)
		if errMarshal != nil {
			log.WithError(errMarshal).Warn("usage: failed to encode options")
		} else {
			options = datatypes.JSON(raw)
		}
	}

	row := models.EmailRecord{
		ID:               uuid.NewString(),
		AccountEmail:     strings.ToLower(strings.TrimSpace(record.AccountEmail)),
		Mode:             strings.TrimSpace(record.Mode),
		Type:             strings.TrimSpace(record.Type),
		Tone:             strings.TrimSpace(record.Tone),
		Language:         strings.TrimSpace(record.Language),
		Goal:             record.Goal,
		Context:          record.Context,
		OriginalEmail:    record.OriginalEmail,
		Result:           record.Result,
		Model:            strings.TrimSpace(record.Model),
		PromptTokens:     record.PromptTokens,
		CompletionTokens: record.CompletionTokens,
		Options:          options,
		CreatedAt:        normalizeTime(record.RequestedAt),
	}
	if errCreate := r.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("email", row.AccountEmail).Warn("usage: failed to persist email record")
	}
}

// Count returns how many generations are recorded for email.
func (r *Recorder) Count(ctx context.Context, email string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, nil
	}
	var total int64
	if errCount := r.db.WithContext(ctx).Model(&models.EmailRecord{}).
		Where("account_email = ?", strings.ToLower(strings.TrimSpace(email))).
		Count(&total).Error; errCount != nil {
		return 0, fmt.Errorf("usage: count email records: %w", errCount)
	}
	return total, nil
}

// Recent returns the latest generations for email, newest first.
func (r *Recorder) Recent(ctx context.Context, email string, limit int) ([]models.EmailRecord, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []models.EmailRecord
	if errFind := r.db.WithContext(ctx).
		Where("account_email = ?", strings.ToLower(strings.TrimSpace(email))).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("usage: list email records: %w", errFind)
	}
	return rows, nil
}

// normalizeTime ensures a non-zero UTC timestamp.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
