/**
 * @description
 * This file defines the periodic balance-refresh job. Linked accounts go
 * stale between user visits; the job walks every stored Plaid item on a
 * fixed interval and re-fetches balances so the ledger stays close to the
 * institution's view without user action.
 *
 * @dependencies
 * - github.com/jasonlvhit/gocron: The cron-style scheduler driving the sweep.
 * - internal/app: The service whose refresh path the job invokes.
 */

package jobs

import (
	"context"
	"log"
	"time"

	"github.com/jasonlvhit/gocron"

	"github.com/dwondim/networth-tracking-mvp/internal/app"
)

// BalanceRefreshJob periodically refreshes every linked account's balance.
type BalanceRefreshJob struct {
	service       *app.Service
	intervalHours uint64
}

func NewBalanceRefreshJob(service *app.Service, intervalHours int) *BalanceRefreshJob {
	if intervalHours < 1 {
		intervalHours = 1
	}
	return &BalanceRefreshJob{
		service:       service,
		intervalHours: uint64(intervalHours),
	}
}

// Process blocks running the scheduler; call it from its own goroutine.
func (j *BalanceRefreshJob) Process() {
	s := gocron.NewScheduler()
	s.Every(j.intervalHours).Hours().Do(j.run)
	<-s.Start()
}

func (j *BalanceRefreshJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Println("level=info component=refresh_job msg=\"balance refresh sweep started\"")
	if err := j.service.RefreshAllLinkedBalances(ctx); err != nil {
		log.Printf("level=warn component=refresh_job msg=\"balance refresh sweep failed\" err=%v", err)
		return
	}
	log.Println("level=info component=refresh_job msg=\"balance refresh sweep complete\"")
}
