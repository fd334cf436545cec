package loom

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/treadle/loomctl/internal/entry"
	logs "github.com/treadle/loomctl/internal/logging"
	"github.com/treadle/loomctl/internal/observability"
	"github.com/treadle/loomctl/internal/substrate"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("loom: invalid heartbeat interval")
	ErrThreadNotFound           = errors.New("loom: thread not found")
)

// WorkerConfig describes the shuttle subprocess backing spawned threads.
// An empty Command leaves the service without a subprocess substrate, so
// spawned threads run inline unless a spawner is injected.
type WorkerConfig struct {
	Command          string
	Args             []string
	BootstrapURIs    []string
	SpawnTimeout     time.Duration
	HandshakeTimeout time.Duration
	TerminateGrace   time.Duration
}

// ServiceConfig configures the loom standalone runtime.
type ServiceConfig struct {
	LoomID            string
	HeartbeatInterval time.Duration
	AdminListenAddr   string
	AdminToken        string
	CORSOrigins       []string
	BuiltinEntryIDs   []string
	IdentityCeiling   uint64
	Join              JoinConfig
	Worker            WorkerConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		LoomID:            "loom.local",
		HeartbeatInterval: 5 * time.Second,
		AdminListenAddr:   "",
		BuiltinEntryIDs:   []string{entry.BuiltinEcho, entry.BuiltinSum, entry.BuiltinSleep},
		Join:              DefaultJoinConfig(),
		Worker: WorkerConfig{
			SpawnTimeout: 10 * time.Second,
		},
	}
}

// Service supervises a set of threads over one shared runtime and exposes
// them through an optional admin HTTP surface.
type Service struct {
	cfg     ServiceConfig
	rt      *Runtime
	started time.Time

	mu      sync.RWMutex
	spawner substrate.Spawner
	threads map[uint64]*Thread
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.LoomID) == "" {
		cfg.LoomID = DefaultServiceConfig().LoomID
	}
	cfg.Join = cfg.Join.WithDefaults()
	rt := NewRuntimeWithConfig(RuntimeConfig{
		IdentityCeiling: cfg.IdentityCeiling,
		Join:            cfg.Join,
	})
	return &Service{
		cfg:     cfg,
		rt:      rt,
		started: time.Now(),
		threads: make(map[uint64]*Thread),
	}
}

// Runtime returns the shared identity/registry/scheduler bundle. Entry
// registration for application entries happens through it before Run.
func (s *Service) Runtime() *Runtime { return s.rt }

// UseSpawner overrides the worker substrate. It replaces the subprocess
// spawner built from WorkerConfig; loopback substrates ride in this way.
func (s *Service) UseSpawner(sp substrate.Spawner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawner = sp
}

// Run blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) bootstrap() error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if err := entry.RegisterBuiltins(s.rt.Registry(), s.cfg.BuiltinEntryIDs); err != nil {
		return err
	}
	observability.RegisterMetrics()

	s.mu.Lock()
	if s.spawner == nil && strings.TrimSpace(s.cfg.Worker.Command) != "" {
		sp, err := substrate.NewProcSpawner(substrate.ProcConfig{
			Bin:              s.cfg.Worker.Command,
			Args:             s.cfg.Worker.Args,
			HandshakeTimeout: s.cfg.Worker.HandshakeTimeout,
			TerminateGrace:   s.cfg.Worker.TerminateGrace,
		})
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.spawner = sp
	}
	hasSubstrate := s.spawner != nil
	s.mu.Unlock()

	logs.Infof(
		"loom.Service.bootstrap ready loom_id=%q entries=%d substrate=%v bootstraps=%d",
		s.cfg.LoomID,
		len(s.rt.Registry().Names()),
		hasSubstrate,
		len(s.cfg.Worker.BootstrapURIs),
	)
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer s.disposeAll()

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, strings.TrimSpace(s.cfg.AdminListenAddr))
		}()
	}

	for {
		select {
		case <-ctx.Done():
			logs.Infof("loom.Service.serve shutdown")
			return nil
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			threads, pending, dead := s.counts()
			logs.Infof(
				"loom.Service.heartbeat loom_id=%q threads=%d pending=%d dead=%d issued=%d acting=%d",
				s.cfg.LoomID,
				threads,
				pending,
				dead,
				s.rt.Identity().Issued(),
				s.rt.Identity().Acting(),
			)
		}
	}
}

// SpawnThread creates one thread from the service worker defaults and
// tracks it for the admin surface. Spawn failure still yields a live
// inline thread.
func (s *Service) SpawnThread(ctx context.Context) (*Thread, error) {
	s.mu.RLock()
	sp := s.spawner
	s.mu.RUnlock()

	t, err := New(ctx, s.rt, ThreadConfig{
		BootstrapURIs: s.cfg.Worker.BootstrapURIs,
		Spawner:       sp,
		SpawnTimeout:  s.cfg.Worker.SpawnTimeout,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.threads[t.ID()] = t
	s.mu.Unlock()
	logs.Infof("loom.Service.SpawnThread thread_id=%d mode=%s", t.ID(), t.Mode())
	return t, nil
}

// Thread returns one tracked thread by id.
func (s *Service) Thread(id uint64) (*Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	return t, ok
}

// Threads returns tracked threads ordered by id. Dead threads stay
// visible; they are inert, not forgotten.
func (s *Service) Threads() []*Thread {
	s.mu.RLock()
	out := make([]*Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// DisposeThread tears one tracked thread down.
func (s *Service) DisposeThread(id uint64) error {
	t, ok := s.Thread(id)
	if !ok {
		return fmt.Errorf("%w: thread_id=%d", ErrThreadNotFound, id)
	}
	t.Dispose()
	return nil
}

func (s *Service) disposeAll() {
	for _, t := range s.Threads() {
		t.Dispose()
	}
}

func (s *Service) counts() (threads, pending, dead int) {
	for _, t := range s.Threads() {
		threads++
		pending += t.PendingCount()
		if t.IsDead() {
			dead++
		}
	}
	return threads, pending, dead
}
