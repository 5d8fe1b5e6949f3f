// workers/treasury_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"wish-payout-system/services"
)

// StartTreasuryRefresh keeps the treasury stats cache warm so abuse-guard
// checks almost never block on an RPC round trip.
func StartTreasuryRefresh(treasury *services.TreasuryService) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			if err := treasury.Refresh(ctx); err != nil {
				log.Printf("[TreasuryWorker] refresh failed: %v", err)
			}
		}),
	)

	log.Println("Started treasury refresh worker (30s)")
}
