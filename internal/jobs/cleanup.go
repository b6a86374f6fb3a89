package jobs

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/clock"
)

// Sweeper evicts stale entries as of now and reports how many went.
type Sweeper interface {
	Sweep(now time.Time) int
}

// CleanupJob periodically evicts idle authenticator instances from the
// session registry. Accounts and applications are never deleted.
type CleanupJob struct {
	tasks    map[string]Sweeper
	clock    clock.Clock
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(c clock.Clock, interval time.Duration) *CleanupJob {
	if c == nil {
		c = clock.New()
	}
	return &CleanupJob{
		tasks:    make(map[string]Sweeper),
		clock:    c,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Add registers a sweeper under name. Call before Start.
func (j *CleanupJob) Add(name string, s Sweeper) *CleanupJob {
	j.tasks[name] = s
	return j
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Int("tasks", len(j.tasks)).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() int {
	now := j.clock.Now()
	total := 0
	for name, s := range j.tasks {
		total += j.runCleanup(name, s, now)
	}
	return total
}

func (j *CleanupJob) runCleanup(name string, s Sweeper, now time.Time) (count int) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msgf("failed to clean up %s", name)
			count = 0
		}
	}()

	count = s.Sweep(now)
	if count > 0 {
		log.Info().Int("count", count).Msgf("cleaned up %s", name)
	}
	return count
}
