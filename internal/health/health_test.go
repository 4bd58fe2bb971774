package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serviceFor(t *testing.T, rawURL string, isIP bool) *database.Service {
	t.Helper()
	host, portStr, err := net.SplitHostPort(rawURL[len("http://"):])
	require.NoError(t, err)
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &database.Service{ID: "svc00001", Protocol: "http", Host: host, Port: &p, BasePath: "/", IsIP: isIP}
}

func fastProber() *Prober {
	p := NewProber()
	p.Pause = 0
	p.HTTPTimeout = time.Second
	return p
}

func TestProber_HTTPStatuses(t *testing.T) {
	var code int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	defer srv.Close()
	svc := serviceFor(t, srv.URL, false)
	p := fastProber()

	code = http.StatusNotFound
	r := p.Probe(context.Background(), svc)
	assert.True(t, r.Running, "4xx counts as running")
	assert.Equal(t, 1, r.Attempts)

	code = http.StatusBadGateway
	r = p.Probe(context.Background(), svc)
	assert.False(t, r.Running)
	assert.Equal(t, 3, r.Attempts)
	assert.Contains(t, r.Error, "502")
}

func TestProber_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	svc := serviceFor(t, "http://"+ln.Addr().String(), true)
	p := fastProber()
	assert.True(t, p.Probe(context.Background(), svc).Running)

	ln.Close()
	r := p.Probe(context.Background(), svc)
	assert.False(t, r.Running)
	assert.NotEmpty(t, r.Error)
}

func TestStatusCache_TTLAndInvalidate(t *testing.T) {
	c := NewStatusCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Put(ctx, Result{ServiceID: "a", Running: true})
	r, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.True(t, r.Running)

	now = now.Add(61 * time.Second)
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok, "entry must expire after ttl")

	c.Put(ctx, Result{ServiceID: "a"})
	c.Invalidate(ctx, "a")
	_, ok = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestBreaker_OpensAndCloses(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow())
	assert.False(t, b.ReportFailure())
	assert.True(t, b.ReportFailure())
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	b.ReportSuccess()
	assert.True(t, b.Allow())
}

type scriptedProber struct {
	mu      sync.Mutex
	calls   int
	running bool
}

func (s *scriptedProber) Probe(ctx context.Context, svc *database.Service) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return Result{ServiceID: svc.ID, Running: s.running, CheckedAt: time.Now(), Attempts: 1}
}

type memRecorder struct{ rows []*database.ServiceStatus }

func (m *memRecorder) RecordStatus(ctx context.Context, st *database.ServiceStatus) error {
	m.rows = append(m.rows, st)
	return nil
}

func TestChecker_CachesAndRecords(t *testing.T) {
	pr := &scriptedProber{running: true}
	rec := &memRecorder{}
	c := NewChecker(pr, NewStatusCache(time.Minute), rec)
	var observed int
	c.OnProbe = func(Result) { observed++ }
	svc := &database.Service{ID: "svc"}
	ctx := context.Background()

	r, cached := c.Status(ctx, svc)
	assert.True(t, r.Running)
	assert.False(t, cached)
	_, cached = c.Status(ctx, svc)
	assert.True(t, cached)
	assert.Equal(t, 1, pr.calls)
	require.Len(t, rec.rows, 1)
	assert.True(t, rec.rows[0].IsActive)
	assert.Equal(t, 1, observed)

	c.Invalidate(ctx, "svc")
	_, cached = c.Status(ctx, svc)
	assert.False(t, cached)
	assert.Equal(t, 2, pr.calls)
}

func TestChecker_BreakerSuspendsProbes(t *testing.T) {
	pr := &scriptedProber{running: false}
	c := NewChecker(pr, NewStatusCache(time.Minute), nil)
	svc := &database.Service{ID: "down"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Refresh(ctx, svc)
	}
	r := c.Refresh(ctx, svc)
	assert.Equal(t, 3, pr.calls)
	assert.False(t, r.Running)
	assert.Contains(t, r.Error, "suspended")

	c.Invalidate(ctx, "down")
	c.Refresh(ctx, svc)
	assert.Equal(t, 4, pr.calls)
}

func TestChecker_ExpireKeepsBreakerOpen(t *testing.T) {
	pr := &scriptedProber{running: false}
	c := NewChecker(pr, NewStatusCache(time.Minute), nil)
	svc := &database.Service{ID: "down"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Refresh(ctx, svc)
	}
	c.Expire(ctx, "down")
	r, cached := c.Status(ctx, svc)
	assert.False(t, cached)
	assert.Contains(t, r.Error, "suspended")
	assert.Equal(t, 3, pr.calls)
}

func TestChecker_Sweep(t *testing.T) {
	pr := &scriptedProber{running: true}
	c := NewChecker(pr, nil, nil)
	up, down := c.Sweep(context.Background(), []database.Service{{ID: "a"}, {ID: "b"}})
	assert.Equal(t, 2, up)
	assert.Equal(t, 0, down)
}
