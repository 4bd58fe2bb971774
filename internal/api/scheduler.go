package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// StartScheduler runs the periodic health sweep on healthSpec and closes
// idle access sessions every minute. The caller stops the returned cron.
func StartScheduler(healthSpec string) (*cron.Cron, error) {
	sched := cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)))
	if checker != nil {
		if _, err := sched.AddFunc(healthSpec, runHealthSweep); err != nil {
			return nil, err
		}
	}
	if _, err := sched.AddFunc("@every 1m", runSessionReaper); err != nil {
		return nil, err
	}
	sched.Start()
	log.WithField("health_cron", healthSpec).Info("scheduler started")
	return sched, nil
}

func runHealthSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()
	services, err := store().ListServices(ctx)
	if err != nil {
		log.WithError(err).Warn("health sweep: list services failed")
		return
	}
	checker.Sweep(ctx, services)
}

func runSessionReaper() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := store().ReapIdleSessions(ctx, time.Now().UTC().Add(-settings.SessionIdle))
	if err != nil {
		log.WithError(err).Warn("session reaper failed")
		return
	}
	if n > 0 {
		sessionsReaped.Add(float64(n))
		log.WithField("closed", n).Info("closed idle access sessions")
	}
}
