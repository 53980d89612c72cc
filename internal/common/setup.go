package common

import (
	"context"
	"log"
	"strings"

	"reward-ledger-go/internal/api"
	"reward-ledger-go/internal/database"
	"reward-ledger-go/internal/formance"
	"reward-ledger-go/internal/models"
	"reward-ledger-go/internal/notify"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService *database.Service
	Ledger    *api.LedgerService
	Mirror    *formance.Service
	Notifier  *notify.WebhookNotifier
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices opens the ledger database and attaches the optional Formance mirror
// and operator notifier. Optional collaborators that fail to start are logged and skipped.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	services := &Services{DbService: dbService}
	var opts []api.Option

	if cfg.Formance.Enabled() {
		mirror, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			zap.L().Warn("Formance mirror disabled", zap.Error(err))
		} else {
			services.Mirror = mirror
			opts = append(opts, api.WithMirror(mirror))
		}
	}

	if cfg.Notify.WebhookURL != "" {
		notifier, err := notify.NewWebhookNotifier(cfg.Notify, cfg.Server.AdminId)
		if err != nil {
			zap.L().Warn("Operator notifications disabled", zap.Error(err))
		} else {
			services.Notifier = notifier
			opts = append(opts, api.WithNotifier(notifier))
		}
	}

	services.Ledger = api.NewLedgerService(dbService, cfg.Rewards, opts...)

	zap.L().Info("Ledger services initialized",
		zap.String("database", cfg.Database.Path),
		zap.Bool("formance_mirror", services.Mirror != nil),
		zap.Bool("notifier", services.Notifier != nil))

	return services, nil
}

// InitializeDatabaseOnly initializes just the database service without the mirror or notifier
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.Notifier != nil {
		cs.Notifier.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
