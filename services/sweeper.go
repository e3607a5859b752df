package services

import (
	"time"

	"trencher/engine"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// StartSweeper schedules the periodic registry sweep that removes
// long-terminal sessions and lobbies nobody ever started. Returns the
// scheduler so the caller can shut it down.
func StartSweeper(registry *engine.Registry, interval, retention, idle time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			registry.Sweep(retention, idle)
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	log.Info().Dur("interval", interval).Dur("retention", retention).
		Dur("idle", idle).Msg("session sweeper started")
	return sched, nil
}
