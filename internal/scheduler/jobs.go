package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/CodexBridge/internal/instructions"
	"github.com/router-for-me/CodexBridge/internal/tokenstore"
	log "github.com/sirupsen/logrus"
)

// Job names.
const (
	JobPrewarmInstructions = "prewarm-instructions"
	JobRefreshToken        = "refresh-token"
)

// PrewarmJob refreshes the cached instructions of every model family.
func PrewarmJob(schedule string, cache *instructions.Cache) Job {
	return Job{
		Name:       JobPrewarmInstructions,
		Schedule:   schedule,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			families := instructions.Families()
			cached := cache.Prewarm(ctx, families...)
			log.Debugf("instructions available for %d/%d families", cached, len(families))
			return nil
		},
	}
}

// RefreshJob renews the access token when it expires within window, so
// requests rarely wait on a refresh.
func RefreshJob(schedule string, tokens *tokenstore.Store, window time.Duration) Job {
	return Job{
		Name:     JobRefreshToken,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			refreshed, err := tokens.RefreshIfNeeded(ctx, window)
			if err != nil {
				return fmt.Errorf("proactive refresh: %w", err)
			}
			if refreshed {
				log.Info("access token refreshed ahead of expiry")
			}
			return nil
		},
	}
}
