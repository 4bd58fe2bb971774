// Package health probes upstream services and memoizes the results.
package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/utils"
)

// Result is the outcome of probing one service.
type Result struct {
	ServiceID    string    `json:"service_id"`
	Running      bool      `json:"running"`
	CheckedAt    time.Time `json:"checked_at"`
	ResponseTime float64   `json:"response_time_ms"`
	Error        string    `json:"error,omitempty"`
	Details      string    `json:"details,omitempty"`
	Attempts     int       `json:"attempts"`
}

// Status is the label shown to users.
func (r Result) Status() string {
	if r.Running {
		return "running"
	}
	return "stopped"
}

// Prober runs the network checks.
type Prober struct {
	DialTimeout time.Duration
	HTTPTimeout time.Duration
	Attempts    int
	Pause       time.Duration

	client *http.Client
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewProber() *Prober {
	p := &Prober{DialTimeout: 2 * time.Second, HTTPTimeout: 5 * time.Second, Attempts: 3, Pause: time.Second}
	p.client = &http.Client{
		Timeout: p.HTTPTimeout,
		Transport: &http.Transport{
			// upstreams commonly run self-signed certificates
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	d := &net.Dialer{}
	p.dial = d.DialContext
	return p
}

// Probe checks svc with bounded retries. IP hosts get a TCP connect, named
// hosts an HTTP GET where any status below 500 counts as running.
func (p *Prober) Probe(ctx context.Context, svc *database.Service) Result {
	res := Result{ServiceID: svc.ID}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		res.Attempts = i
		start := time.Now()
		var err error
		if svc.IsIP {
			res.Details, err = p.probeTCP(ctx, svc)
		} else {
			res.Details, err = p.probeHTTP(ctx, svc)
		}
		res.CheckedAt = time.Now().UTC()
		res.ResponseTime = float64(time.Since(start).Microseconds()) / 1000
		if err == nil {
			res.Running = true
			res.Error = ""
			return res
		}
		res.Error = err.Error()
		if i < attempts {
			select {
			case <-ctx.Done():
				res.Error = ctx.Err().Error()
				return res
			case <-time.After(p.Pause):
			}
		}
	}
	return res
}

func defaultPort(svc *database.Service) int {
	if svc.Port != nil {
		return *svc.Port
	}
	if svc.Protocol == "https" {
		return 443
	}
	return 80
}

func (p *Prober) probeTCP(ctx context.Context, svc *database.Service) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.DialTimeout)
	defer cancel()
	addr := net.JoinHostPort(svc.Host, strconv.Itoa(defaultPort(svc)))
	conn, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("tcp connect %s: %w", addr, err)
	}
	_ = conn.Close()
	return "tcp connect " + addr + " ok", nil
}

func (p *Prober) probeHTTP(ctx context.Context, svc *database.Service) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.HTTPTimeout)
	defer cancel()
	url := utils.RenderServiceURL(svc.Protocol, svc.Host, svc.Port, svc.BasePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	detail := fmt.Sprintf("GET %s -> %d", url, resp.StatusCode)
	if resp.StatusCode >= 500 {
		return detail, fmt.Errorf("GET %s returned %d", url, resp.StatusCode)
	}
	return detail, nil
}
