package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mailcoach-ai/mailcoach/internal/config"
	"github.com/mailcoach-ai/mailcoach/internal/db"
	"github.com/mailcoach-ai/mailcoach/internal/security"
	"github.com/mailcoach-ai/mailcoach/internal/settings"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrAlreadyInitialized is returned when a config file already exists.
var ErrAlreadyInitialized = errors.New("config file already exists")

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "mailcoach.db"

// InitRequest contains parameters for writing the first config file.
type InitRequest struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
	Port             int
	AppURL           string
}

// InitResult reports what Initialize wrote.
type InitResult struct {
	ConfigPath string
	Database   string
	AdminToken string
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// Initialize validates req, checks the database, writes the config file and migrates.
// The config file is removed again when migration fails.
func Initialize(ctx context.Context, cfg config.AppConfig, req InitRequest) (InitResult, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	if ConfigExists(configPath) {
		return InitResult{}, fmt.Errorf("%w: %s", ErrAlreadyInitialized, configPath)
	}
	if errValidate := validateInitRequest(&req); errValidate != nil {
		return InitResult{}, errValidate
	}
	dsn, errBuild := BuildDSN(req)
	if errBuild != nil {
		return InitResult{}, errBuild
	}
	if errCheck := CheckDatabaseConnection(dsn); errCheck != nil {
		return InitResult{}, errCheck
	}

	adminToken, errWrite := WriteConfigFile(configPath, dsn, req)
	if errWrite != nil {
		return InitResult{}, errWrite
	}
	if errMigrate := Migrate(ctx, config.AppConfig{ConfigPath: configPath}); errMigrate != nil {
		if errRemove := os.Remove(configPath); errRemove != nil {
			log.Errorf("remove config file error: %v", errRemove)
		}
		return InitResult{}, errMigrate
	}
	return InitResult{ConfigPath: configPath, Database: DescribeDSN(dsn), AdminToken: adminToken}, nil
}

// BuildDSN builds a database DSN from the init request.
func BuildDSN(req InitRequest) (string, error) {
	switch strings.ToLower(strings.TrimSpace(req.DatabaseType)) {
	case "", "sqlite":
		return buildSQLiteDSN(req.DatabasePath), nil
	case "postgres":
		sslMode := req.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			req.DatabaseUser,
			req.DatabasePassword,
			req.DatabaseHost,
			req.DatabasePort,
			req.DatabaseName,
			sslMode,
		), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", req.DatabaseType)
	}
}

// buildSQLiteDSN constructs a SQLite DSN with busy timeout and WAL pragmas.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
	}, "&")
}

// CheckDatabaseConnection validates that the DSN can connect and ping.
func CheckDatabaseConnection(dsn string) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	return db.Ping(conn)
}

// validateInitRequest normalizes and validates init input data.
func validateInitRequest(req *InitRequest) error {
	dbType := strings.ToLower(strings.TrimSpace(req.DatabaseType))
	if dbType == "" {
		dbType = "sqlite"
	}
	req.DatabaseType = dbType

	switch dbType {
	case "postgres":
		if strings.TrimSpace(req.DatabaseHost) == "" {
			return fmt.Errorf("database host is required")
		}
		if req.DatabasePort <= 0 {
			req.DatabasePort = 5432
		}
		if strings.TrimSpace(req.DatabaseUser) == "" {
			return fmt.Errorf("database user is required")
		}
		if strings.TrimSpace(req.DatabaseName) == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if strings.TrimSpace(req.DatabasePath) == "" {
			req.DatabasePath = defaultSQLitePath
		}
	default:
		return fmt.Errorf("unsupported database type %q", req.DatabaseType)
	}
	if req.Port <= 0 || req.Port > 65535 {
		req.Port = settings.DefaultPort
	}
	req.AppURL = strings.TrimRight(strings.TrimSpace(req.AppURL), "/")
	if req.AppURL == "" {
		req.AppURL = fmt.Sprintf("http://localhost:%d", req.Port)
	}
	return nil
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	Port        int          `yaml:"port"`
	AppURL      string       `yaml:"app-url"`
	AdminToken  string       `yaml:"admin-token"`
	DatabaseDSN string       `yaml:"database-dsn"`
	JWT         jwtCfg       `yaml:"jwt"`
	Quota       quotaCfg     `yaml:"quota"`
	RateLimit   rateLimitCfg `yaml:"rate-limit"`
}

// jwtCfg holds session settings for the generated config file.
type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type quotaCfg struct {
	FreeCreditsPerMonth int `yaml:"free-credits-per-month"`
}

type rateLimitCfg struct {
	Limit int `yaml:"limit"`
}

// generateSecret creates a random secret, falling back to a placeholder the operator must replace.
func generateSecret() string {
	secret, err := security.GenerateRandomString(32)
	if err != nil {
		return "change-me-to-a-secure-random-string"
	}
	return secret
}

// WriteConfigFile writes the initial config file and returns the generated admin token.
func WriteConfigFile(configPath string, dsn string, req InitRequest) (string, error) {
	cfg := configFile{
		Port:        req.Port,
		AppURL:      req.AppURL,
		AdminToken:  generateSecret(),
		DatabaseDSN: dsn,
		JWT: jwtCfg{
			Secret: generateSecret(),
			Expiry: "720h",
		},
		Quota: quotaCfg{FreeCreditsPerMonth: settings.DefaultFreeCreditsPerMonth},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return "", fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return "", fmt.Errorf("write config file: %w", errWrite)
	}
	return cfg.AdminToken, nil
}
