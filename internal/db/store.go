package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/roomchat/internal/models"
	"github.com/wuwenbin0122/roomchat/internal/utils"
)

var (
	// ErrPersistence wraps every backend failure on the write and read paths.
	ErrPersistence  = errors.New("store: persistence failure")
	ErrInvalidRole  = errors.New("store: only user and assistant turns can be persisted")
	ErrEmptySession = errors.New("store: session id is required")
)

// Store is an append-only log of chat turns grouped by session id.
// Implementations assign ID and CreatedAt and return turns in ascending
// creation order, ties broken by insertion order.
type Store interface {
	Append(ctx context.Context, sessionID string, role models.Role, content string) (models.Turn, error)
	ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the backend selected by cfg.Backend and prepares its schema.
func Open(ctx context.Context, cfg utils.StoreConfig, logger *zap.Logger) (Store, error) {
	logger = utils.OrNop(logger).With(zap.String("backend", cfg.Backend))

	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case utils.BackendMemory, "":
		store = NewMemory()
	case utils.BackendPostgres:
		var pg *Postgres
		pg, err = NewPostgres(ctx, cfg.Postgres)
		if err == nil {
			if err = pg.EnsureSchema(ctx); err != nil {
				pg.Close(ctx)
			}
		}
		store = pg
	case utils.BackendMongo:
		var mg *Mongo
		mg, err = NewMongo(ctx, cfg.Mongo)
		if err == nil {
			if err = mg.EnsureCollections(ctx); err != nil {
				mg.Close(ctx)
			}
		}
		store = mg
	case utils.BackendPebble:
		store, err = OpenPebble(cfg.Pebble.Path, nil)
	case utils.BackendRedis:
		store, err = NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		logger.Error("store_open_failed", zap.Error(err))
		return nil, err
	}

	logger.Info("store_opened")
	return store, nil
}

func validateAppend(sessionID string, role models.Role) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrEmptySession
	}
	if !role.Persistable() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
