// services/scheduler.go
package services

import (
	"log"

	"ranked-match-system/models"

	"github.com/go-co-op/gocron/v2"
)

// StartMatchmakingScheduler runs the pairing pass on a fixed tick,
// independently per mode.
func (qs *QueueService) StartMatchmakingScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	for _, mode := range models.AllModes {
		m := mode
		_, err := sched.NewJob(
			gocron.DurationJob(QueueTick),
			gocron.NewTask(func() {
				qs.ProcessMode(m)
			}),
		)
		if err != nil {
			log.Printf("[Scheduler] failed to schedule %s pairing job: %v", m, err)
		}
	}
}
