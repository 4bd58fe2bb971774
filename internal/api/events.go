package api

import (
	"context"

	"github.com/Armour007/portal-backend/internal/mesh"
	log "github.com/sirupsen/logrus"
)

var bus mesh.Bus

func SetBus(b mesh.Bus) { bus = b }

func publish(ctx context.Context, e mesh.Event) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, e); err != nil {
		log.WithError(err).WithField("topic", e.Topic).Warn("publish event failed")
	}
}

// serviceChanged drops local derived state for a service and tells peers.
func serviceChanged(ctx context.Context, serviceID string, deleted bool) {
	invalidateService(ctx, serviceID, deleted)
	topic := mesh.TopicServiceUpdated
	if deleted {
		topic = mesh.TopicServiceDeleted
	}
	publish(ctx, mesh.NewServiceEvent(topic, serviceID, 0))
}

// grantsChanged forgets a cached grant decision here and on peers.
func grantsChanged(ctx context.Context, serviceID string, userID int64) {
	forgetGrant(serviceID, userID)
	publish(ctx, mesh.NewServiceEvent(mesh.TopicGrantsChanged, serviceID, userID))
}

func invalidateService(ctx context.Context, serviceID string, deleted bool) {
	if checker != nil {
		checker.Invalidate(ctx, serviceID)
	}
	if deleted && grantCache != nil {
		grantCache.Clear()
	}
}

func forgetGrant(serviceID string, userID int64) {
	if grantCache == nil {
		return
	}
	if userID == 0 {
		grantCache.Clear()
		return
	}
	grantCache.Forget(userID, serviceID)
}

// SubscribeInvalidation applies peer events to the local caches. Own events
// are applied twice, which is harmless.
func SubscribeInvalidation(b mesh.Bus) ([]func(), error) {
	var unsubs []func()
	handlers := map[string]mesh.Handler{
		mesh.TopicServiceUpdated: func(ctx context.Context, e mesh.Event) {
			if p, ok := mesh.ServiceOf(e); ok {
				invalidateService(ctx, p.ServiceID, false)
			}
		},
		mesh.TopicServiceDeleted: func(ctx context.Context, e mesh.Event) {
			if p, ok := mesh.ServiceOf(e); ok {
				invalidateService(ctx, p.ServiceID, true)
			}
		},
		mesh.TopicGrantsChanged: func(ctx context.Context, e mesh.Event) {
			if p, ok := mesh.ServiceOf(e); ok {
				forgetGrant(p.ServiceID, p.UserID)
			}
		},
	}
	for topic, h := range handlers {
		unsub, err := b.Subscribe(topic, h)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return nil, err
		}
		unsubs = append(unsubs, unsub)
	}
	return unsubs, nil
}
