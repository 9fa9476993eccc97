package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"

	"github.com/c360studio/semguard/storage"
)

// Session is one staging repository, alive for a single update run.
type Session struct {
	ID                string    `json:"id"`
	StagingRepository string    `json:"staging_repository"`
	SourceRepository  string    `json:"source_repository"`
	GraphURI          string    `json:"graph_uri,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// stagingRepositoryID derives a store-safe repository id.
func stagingRepositoryID(prefix, target, sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s%s-%s", prefix, target, short)
}

// openSession creates the staging repository with the target's ruleset.
func (c *Coordinator) openSession(ctx context.Context, sessionID, target, graphURI string, rs storage.RulesetConfiguration) (*Session, error) {
	s := &Session{
		ID:                sessionID,
		StagingRepository: stagingRepositoryID(c.stagingPrefix, target, sessionID),
		SourceRepository:  target,
		GraphURI:          graphURI,
		CreatedAt:         c.now(),
	}

	attempt := 0
	err := retry.Do(ctx, c.retry, func() error {
		attempt++
		err := c.store.CreateRepository(ctx, storage.RepositoryConfig{
			ID:      s.StagingRepository,
			Title:   "staging for " + target,
			Ruleset: rs,
		})
		if err != nil && attempt > 1 && errors.Is(err, storage.ErrRepositoryExists) {
			// An earlier attempt created it before failing.
			return nil
		}
		return storage.RetryableOnly(err)
	})
	if err != nil {
		return nil, fmt.Errorf("create staging repository %s: %w", s.StagingRepository, err)
	}
	c.metrics.StagingStarted()
	c.logger.Info("Staging session opened",
		"session", s.ID, "staging", s.StagingRepository, "target", target, "ruleset", rs.StoreName())
	return s, nil
}

// closeSession drops the staging repository. It runs on every exit path and
// ignores caller cancellation.
func (c *Coordinator) closeSession(ctx context.Context, s *Session) {
	ctx = context.WithoutCancel(ctx)
	err := retry.Do(ctx, c.retry, func() error {
		err := c.store.DropRepository(ctx, s.StagingRepository)
		if errors.Is(err, storage.ErrRepositoryNotFound) {
			return nil
		}
		return storage.RetryableOnly(err)
	})
	c.metrics.StagingFinished()
	if err != nil {
		c.logger.Error("Failed to drop staging repository",
			"session", s.ID, "staging", s.StagingRepository, "error", err)
		return
	}
	c.logger.Debug("Staging session closed", "session", s.ID, "staging", s.StagingRepository)
}
