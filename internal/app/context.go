package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"samanvay/internal/config"
	"samanvay/internal/domain"
	"samanvay/internal/engine"
	"samanvay/internal/notify"
	"samanvay/internal/repo"
)

// NewEngine builds the transition core with its workspace collaborators
// wired: the repo doubles as state store and agency resolver, and every
// notification lands in the inbox table.
func NewEngine(r repo.Repo, cfg *config.Config) engine.Engine {
	e := engine.New(r, r, notify.StoreNotifier{Repo: r})
	if cfg != nil {
		e.MaxExecuting = cfg.Assignment.MaxExecuting
	}
	return e
}

// SeedAgencies ensures every agency declared in the config exists in the
// directory. Existing records are left untouched.
func SeedAgencies(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, seed := range cfg.Agencies.Seed {
		if _, err := r.GetAgency(ctx, seed.ID); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		agency := domain.Agency{
			ID:         seed.ID,
			Name:       seed.Name,
			Type:       seed.Type,
			Department: seed.Department,
			Status:     "active",
			CreatedAt:  now,
		}
		if err := r.InsertAgency(ctx, agency); err != nil {
			return fmt.Errorf("seed agency %s: %w", seed.ID, err)
		}
	}
	return nil
}
