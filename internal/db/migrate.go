package db

import (
	"fmt"
	"sort"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// migration is one ordered, idempotent schema step.
type migration struct {
	version int
	name    string
	apply   func(tx *gorm.DB) error
}

// migrations lists schema steps in application order. Append only.
var migrations = []migration{
	{
		version: 1,
		name:    "create accounts",
		apply: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Account{})
		},
	},
	{
		version: 2,
		name:    "create email records",
		apply: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.EmailRecord{})
		},
	},
	{
		version: 3,
		name:    "index accounts by plan",
		apply: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_accounts_plan ON accounts (plan)`).Error
		},
	},
	{
		version: 4,
		name:    "index email records by account and time",
		apply: func(tx *gorm.DB) error {
			return tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_email_records_account_created
				ON email_records (account_email, created_at)
			`).Error
		},
	},
	{
		version: 5,
		name:    "backfill missing credit limits",
		apply: func(tx *gorm.DB) error {
			return tx.Exec(`
				UPDATE accounts
				SET credits_limit = 5
				WHERE credits_limit IS NULL OR credits_limit <= 0
			`).Error
		},
	},
}

// Migrate applies pending schema migrations for the current dialect.
// Each migration runs once, inside its own transaction, and is recorded in schema_migrations.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errTable := conn.AutoMigrate(&models.SchemaMigration{}); errTable != nil {
		return fmt.Errorf("db: create schema_migrations: %w", errTable)
	}

	applied, errApplied := AppliedVersions(conn)
	if errApplied != nil {
		return errApplied
	}

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if _, ok := applied[m.version]; !ok {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	for _, m := range pending {
		errTx := conn.Transaction(func(tx *gorm.DB) error {
			if errApply := m.apply(tx); errApply != nil {
				return errApply
			}
			return tx.Create(&models.SchemaMigration{
				Version:   m.version,
				Name:      m.name,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if errTx != nil {
			return fmt.Errorf("db: migration %d (%s): %w", m.version, m.name, errTx)
		}
		log.WithField("version", m.version).Infof("db: applied migration %q", m.name)
	}
	return nil
}

// AppliedVersions returns the set of recorded migration versions.
func AppliedVersions(conn *gorm.DB) (map[int]struct{}, error) {
	var rows []models.SchemaMigration
	if errFind := conn.Order("version ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("db: list schema_migrations: %w", errFind)
	}
	out := make(map[int]struct{}, len(rows))
	for _, row := range rows {
		out[row.Version] = struct{}{}
	}
	return out, nil
}

// LatestVersion returns the highest known migration version.
func LatestVersion() int {
	latest := 0
	for _, m := range migrations {
		if m.version > latest {
			latest = m.version
		}
	}
	return latest
}
