package nginx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	database "github.com/Armour007/portal-backend/internal"
	log "github.com/sirupsen/logrus"
)

// ProxyError is returned when the proxy rejects a configuration change. The
// fragment has already been rolled back when it is returned.
type ProxyError struct {
	Stage  string // "test" or "reload"
	Output string
	Err    error
}

func (e *ProxyError) Error() string {
	msg := fmt.Sprintf("nginx %s failed: %v", e.Stage, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ProxyError) Unwrap() error { return e.Err }

// Synthesizer owns the fragment directory. The write, test and reload sequence
// runs under one mutex because the proxy process is shared.
type Synthesizer struct {
	dir      string
	ctl      Controller
	renderer Renderer

	mu sync.Mutex
}

func NewSynthesizer(dir string, ctl Controller, renderer Renderer) *Synthesizer {
	if ctl == nil {
		ctl = NopController{}
	}
	return &Synthesizer{dir: dir, ctl: ctl, renderer: renderer}
}

func (s *Synthesizer) path(id string) string {
	return filepath.Join(s.dir, FragmentName(id))
}

// snapshot remembers a fragment's content before it is changed.
type snapshot struct {
	path    string
	content []byte
	existed bool
}

func (s *Synthesizer) take(path string) (snapshot, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot{path: path}, nil
	}
	if err != nil {
		return snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}
	return snapshot{path: path, content: b, existed: true}, nil
}

func (sn snapshot) restore() {
	var err error
	if sn.existed {
		err = writeFile(sn.path, sn.content)
	} else {
		err = os.Remove(sn.path)
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
	}
	if err != nil {
		log.WithError(err).WithField("path", sn.path).Error("nginx: rollback failed")
	}
}

// writeFile replaces path atomically so a concurrent reader never sees a
// partial fragment.
func writeFile(path string, content []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// validate runs test then reload and rolls every snapshot back on failure.
func (s *Synthesizer) validate(ctx context.Context, snaps []snapshot) error {
	if out, err := s.ctl.Test(ctx); err != nil {
		for _, sn := range snaps {
			sn.restore()
		}
		return &ProxyError{Stage: "test", Output: out, Err: err}
	}
	if out, err := s.ctl.Reload(ctx); err != nil {
		for _, sn := range snaps {
			sn.restore()
		}
		return &ProxyError{Stage: "reload", Output: out, Err: err}
	}
	return nil
}

// Apply renders and deploys the fragment for svc.
func (s *Synthesizer) Apply(ctx context.Context, svc *database.Service) error {
	content, err := s.renderer.Render(svc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}
	sn, err := s.take(s.path(svc.ID))
	if err != nil {
		return err
	}
	if err := writeFile(sn.path, content); err != nil {
		return fmt.Errorf("write fragment for %s: %w", svc.ID, err)
	}
	if err := s.validate(ctx, []snapshot{sn}); err != nil {
		log.WithError(err).WithField("service_id", svc.ID).Warn("nginx: fragment rejected, rolled back")
		return err
	}
	log.WithFields(log.Fields{"service_id": svc.ID, "path": sn.path}).Info("nginx: fragment applied")
	return nil
}

// Remove deletes the fragment for id and reloads. A missing fragment is not an
// error.
func (s *Synthesizer) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sn, err := s.take(s.path(id))
	if err != nil {
		return err
	}
	if !sn.existed {
		return nil
	}
	if err := os.Remove(sn.path); err != nil {
		return fmt.Errorf("remove fragment for %s: %w", id, err)
	}
	if err := s.validate(ctx, []snapshot{sn}); err != nil {
		log.WithError(err).WithField("service_id", id).Warn("nginx: removal rejected, fragment restored")
		return err
	}
	log.WithField("service_id", id).Info("nginx: fragment removed")
	return nil
}

// SyncAll rewrites the fragments of every service, deletes fragments of
// services that no longer exist and validates once. Any failure restores the
// whole directory to its previous state.
func (s *Synthesizer) SyncAll(ctx context.Context, services []database.Service) error {
	rendered := make(map[string][]byte, len(services))
	for i := range services {
		b, err := s.renderer.Render(&services[i])
		if err != nil {
			return err
		}
		rendered[s.path(services[i].ID)] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}
	existing, err := filepath.Glob(filepath.Join(s.dir, "service_*.conf"))
	if err != nil {
		return err
	}
	var snaps []snapshot
	rollback := func() {
		for _, sn := range snaps {
			sn.restore()
		}
	}
	for _, path := range existing {
		if _, keep := rendered[path]; keep {
			continue
		}
		sn, err := s.take(path)
		if err != nil {
			rollback()
			return err
		}
		snaps = append(snaps, sn)
		if err := os.Remove(path); err != nil {
			rollback()
			return fmt.Errorf("remove stale fragment %s: %w", path, err)
		}
	}
	for path, content := range rendered {
		sn, err := s.take(path)
		if err != nil {
			rollback()
			return err
		}
		snaps = append(snaps, sn)
		if err := writeFile(path, content); err != nil {
			rollback()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := s.validate(ctx, snaps); err != nil {
		return err
	}
	log.WithField("services", len(services)).Info("nginx: all fragments synchronized")
	return nil
}

// Fragment returns the deployed fragment for id, if any.
func (s *Synthesizer) Fragment(id string) ([]byte, error) {
	return os.ReadFile(s.path(id))
}
