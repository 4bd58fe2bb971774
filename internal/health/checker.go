package health

import (
	"context"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	log "github.com/sirupsen/logrus"
)

// ServiceProber performs one bounded check of a service.
type ServiceProber interface {
	Probe(ctx context.Context, svc *database.Service) Result
}

// Recorder persists probe results.
type Recorder interface {
	RecordStatus(ctx context.Context, st *database.ServiceStatus) error
}

// Checker answers "is this service up" from the cache, probing on a miss.
type Checker struct {
	prober   ServiceProber
	cache    Cache
	recorder Recorder
	breakers *breakers

	// OnProbe, when set, observes every fresh probe result.
	OnProbe func(Result)
}

func NewChecker(prober ServiceProber, cache Cache, recorder Recorder) *Checker {
	if cache == nil {
		cache = NewStatusCache(0)
	}
	return &Checker{
		prober:   prober,
		cache:    cache,
		recorder: recorder,
		breakers: &breakers{m: map[string]*Breaker{}, threshold: 3, openFor: 5 * time.Minute},
	}
}

// Status returns the cached result when fresh, otherwise probes. The second
// return value reports a cache hit.
func (c *Checker) Status(ctx context.Context, svc *database.Service) (Result, bool) {
	if r, ok := c.cache.Get(ctx, svc.ID); ok {
		return r, true
	}
	return c.Refresh(ctx, svc), false
}

// Cached returns the cached result without probing.
func (c *Checker) Cached(ctx context.Context, serviceID string) (Result, bool) {
	return c.cache.Get(ctx, serviceID)
}

// Refresh probes svc now, unless its breaker is open, and stores the result.
func (c *Checker) Refresh(ctx context.Context, svc *database.Service) Result {
	b := c.breakers.get(svc.ID)
	if !b.Allow() {
		return Result{ServiceID: svc.ID, CheckedAt: time.Now().UTC(), Error: "probing suspended after repeated failures"}
	}
	r := c.prober.Probe(ctx, svc)
	if r.Running {
		b.ReportSuccess()
	} else if b.ReportFailure() {
		log.WithField("service_id", svc.ID).Warn("health: breaker opened")
	}
	c.cache.Put(ctx, r)
	if c.OnProbe != nil {
		c.OnProbe(r)
	}
	if c.recorder != nil {
		if err := c.recorder.RecordStatus(ctx, toStatusRow(r)); err != nil {
			log.WithError(err).WithField("service_id", svc.ID).Warn("health: record status failed")
		}
	}
	return r
}

// Expire drops only the cached result; an open breaker stays open.
func (c *Checker) Expire(ctx context.Context, serviceID string) {
	c.cache.Invalidate(ctx, serviceID)
}

// Invalidate drops the cached result and breaker state of a service.
func (c *Checker) Invalidate(ctx context.Context, serviceID string) {
	c.cache.Invalidate(ctx, serviceID)
	c.breakers.forget(serviceID)
}

// Sweep refreshes services one after another.
func (c *Checker) Sweep(ctx context.Context, services []database.Service) (up, down int) {
	for i := range services {
		if ctx.Err() != nil {
			break
		}
		if c.Refresh(ctx, &services[i]).Running {
			up++
		} else {
			down++
		}
	}
	log.WithFields(log.Fields{"up": up, "down": down}).Info("health: sweep finished")
	return up, down
}

func toStatusRow(r Result) *database.ServiceStatus {
	rt := r.ResponseTime
	st := &database.ServiceStatus{
		ServiceID:    r.ServiceID,
		IsActive:     r.Running,
		CheckTime:    r.CheckedAt,
		ResponseTime: &rt,
		RetryCount:   r.Attempts - 1,
	}
	if st.RetryCount < 0 {
		st.RetryCount = 0
	}
	if r.Error != "" {
		e := r.Error
		st.ErrorMessage = &e
	}
	if r.Details != "" {
		d := r.Details
		st.Details = &d
	}
	return st
}
