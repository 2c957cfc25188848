package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mailcoach-ai/mailcoach/internal/app"
	"github.com/mailcoach-ai/mailcoach/internal/config"
	"github.com/mailcoach-ai/mailcoach/internal/identity"
	"github.com/mailcoach-ai/mailcoach/internal/security"
	"github.com/mailcoach-ai/mailcoach/internal/settings"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run dispatches to the serve, migrate, init or token command. serve is the default.
func run(ctx context.Context, args []string) error {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		return runServe(ctx, args)
	case "migrate":
		return runMigrate(ctx, args)
	case "init":
		return runInit(ctx, args)
	case "token":
		return runToken(args)
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate, init or token)", command)
	}
}

func loadAppConfig(cfgPath string) (config.AppConfig, error) {
	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return config.AppConfig{}, err
	}
	if strings.TrimSpace(cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(cfgPath)
	}
	return appCfg, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", settings.DefaultPort, "server port when the config does not set one")
	debug := fs.Bool("debug", false, "enable debug logging")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	appCfg, err := loadAppConfig(*cfgPath)
	if err != nil {
		return err
	}
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)
	if !app.ConfigExists(configPath) && strings.TrimSpace(os.Getenv(config.EnvDBConnection)) == "" {
		return fmt.Errorf("config not found at %s: run `mailcoach init` or set %s", configPath, config.EnvDBConnection)
	}
	return app.RunServer(ctx, appCfg, *port)
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	appCfg, err := loadAppConfig(*cfgPath)
	if err != nil {
		return err
	}
	return app.Migrate(ctx, appCfg)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	var req app.InitRequest
	fs.StringVar(&req.DatabaseType, "db", "sqlite", "database type: sqlite or postgres")
	fs.StringVar(&req.DatabasePath, "db-path", "", "sqlite database file")
	fs.StringVar(&req.DatabaseHost, "db-host", "", "postgres host")
	fs.IntVar(&req.DatabasePort, "db-port", 5432, "postgres port")
	fs.StringVar(&req.DatabaseUser, "db-user", "", "postgres user")
	fs.StringVar(&req.DatabaseName, "db-name", "", "postgres database")
	fs.StringVar(&req.DatabaseSSLMode, "db-sslmode", "", "postgres sslmode")
	fs.IntVar(&req.Port, "port", settings.DefaultPort, "server port")
	fs.StringVar(&req.AppURL, "app-url", "", "public URL of the web app")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	req.DatabasePassword = os.Getenv("DB_PASSWORD")

	appCfg, err := loadAppConfig(*cfgPath)
	if err != nil {
		return err
	}
	result, err := app.Initialize(ctx, appCfg, req)
	if err != nil {
		if errors.Is(err, app.ErrAlreadyInitialized) {
			log.Info("already initialized, nothing to do")
			return nil
		}
		return err
	}
	log.WithField("database", result.Database).Infof("wrote %s", result.ConfigPath)
	fmt.Printf("admin token: %s\n", result.AdminToken)
	return nil
}

// runToken prints a session token, for operators and local testing.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	email := fs.String("email", "", "account email")
	name := fs.String("name", "", "display name")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if !identity.Valid(*email) {
		return fmt.Errorf("invalid email %q", *email)
	}
	appCfg, err := loadAppConfig(*cfgPath)
	if err != nil {
		return err
	}
	jwtCfg, err := config.LoadJWTConfig(config.ResolveConfigPath(appCfg.ConfigPath))
	if err != nil {
		return err
	}
	token, err := security.IssueSessionToken(jwtCfg.Secret, *email, *name, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
