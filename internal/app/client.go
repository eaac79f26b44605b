package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	intrnl "termpost/internal"
	"termpost/internal/draft"
	"termpost/internal/storage"
)

// OpenDraftStore opens the configured draft backend and clears upload
// placeholders left behind by a previous run.
func OpenDraftStore(ctx context.Context, cfg ClientConfig) (draft.Store, io.Closer, error) {
	var (
		store  draft.Store
		closer io.Closer
	)
	switch cfg.DraftsBackend {
	case DraftsMemory:
		store, closer = draft.NewMemoryStore(), io.NopCloser(nil)
	case DraftsPebble:
		if err := os.MkdirAll(filepath.Dir(cfg.DraftsPath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create drafts dir: %w", err)
		}
		pebbleDrafts, err := storage.OpenPebbleDrafts(cfg.DraftsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open drafts: %w", err)
		}
		store, closer = pebbleDrafts, pebbleDrafts
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.DraftsPath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create drafts dir: %w", err)
		}
		sqlDrafts, err := storage.NewStore(cfg.DraftsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open drafts: %w", err)
		}
		if err := sqlDrafts.Migrate(ctx); err != nil {
			_ = sqlDrafts.Close()
			return nil, nil, fmt.Errorf("migrate drafts: %w", err)
		}
		store, closer = sqlDrafts, sqlDrafts
	}

	for _, prefix := range []string{draft.ChannelPrefix, draft.CommentPrefix} {
		if err := store.RemoveAllWithPrefix(ctx, prefix, draft.ClearUploads); err != nil {
			_ = closer.Close()
			return nil, nil, fmt.Errorf("clear stale uploads: %w", err)
		}
	}
	return store, closer, nil
}

// RunClient launches the Bubble Tea TUI with the provided configuration.
func RunClient(ctx context.Context, cfg ClientConfig, logger *zap.Logger) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store, closer, err := OpenDraftStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warn("close drafts", zap.Error(err))
		}
	}()

	return intrnl.RunClient(ctx, intrnl.ClientOptions{
		ServerJoinURL: cfg.ServerURL,
		Channel:       cfg.Channel,
		User:          cfg.User,
		Timezone:      cfg.Timezone,
		Drafts:        store,
		DraftDelay:    cfg.DraftSaveDelay,
		Settings:      cfg.ComposeSettings(cfg.User),
		Logger:        logger,
	})
}
