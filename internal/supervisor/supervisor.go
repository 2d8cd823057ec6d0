package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/boxrelay/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStopTimeout  = 10 * time.Second
)

var (
	ErrNoGroups       = errors.New("supervisor: no worker groups")
	ErrInvalidGroup   = errors.New("supervisor: invalid worker group")
	ErrAlreadyRunning = errors.New("supervisor: already running")
)

// GroupSpec names a group and how many workers it keeps alive.
type GroupSpec struct {
	Name    string
	Workers int
}

type Config struct {
	PollInterval time.Duration
	// StopTimeout bounds how long children may take to exit after a stop
	// before they are killed. Zero disables escalation.
	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopTimeout < 0 {
		c.StopTimeout = 0
	}
	return c
}

// WorkerStatus is one slot as reported by Snapshot.
type WorkerStatus struct {
	Group     string    `json:"group"`
	Slot      int       `json:"slot"`
	PID       int       `json:"pid"`
	Alive     bool      `json:"alive"`
	StartedAt time.Time `json:"started_at"`
	Restarts  int       `json:"restarts"`
}

type slot struct {
	group     string
	index     int
	proc      Process
	startedAt time.Time
	restarts  int
}

// Supervisor owns the worker processes of every group.
type Supervisor struct {
	cfg     Config
	spawner Spawner
	groups  []GroupSpec
	logger  zerolog.Logger

	mu         sync.Mutex
	slots      []*slot
	enabled    bool
	started    bool
	escalation *time.Timer
	kick       chan struct{}
}

func New(cfg Config, spawner Spawner, groups ...GroupSpec) (*Supervisor, error) {
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}
	seen := make(map[string]struct{}, len(groups))
	s := &Supervisor{
		cfg:     cfg.withDefaults(),
		spawner: spawner,
		groups:  append([]GroupSpec(nil), groups...),
		logger:  log.With().Str("role", "supervisor").Logger(),
		enabled: true,
		kick:    make(chan struct{}, 1),
	}
	for _, g := range groups {
		if g.Name == "" || g.Workers <= 0 {
			return nil, fmt.Errorf("%w: %q with %d workers", ErrInvalidGroup, g.Name, g.Workers)
		}
		if _, dup := seen[g.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate %q", ErrInvalidGroup, g.Name)
		}
		seen[g.Name] = struct{}{}
		for i := 0; i < g.Workers; i++ {
			s.slots = append(s.slots, &slot{group: g.Name, index: i})
		}
	}
	return s, nil
}

// Start spawns the initial worker of every slot.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyRunning
	}
	s.started = true
	for _, sl := range s.slots {
		if err := s.spawnLocked(sl); err != nil {
			return err
		}
	}
	return nil
}

// Run starts the workers if needed and polls them until the supervisor is
// disabled and no child remains alive. Cancelling ctx acts as SIGTERM.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		if err := s.Start(); err != nil {
			s.Terminate()
			return err
		}
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	ctxDone := ctx.Done()
	for {
		if s.Poll() == 0 && !s.Enabled() {
			s.stopEscalation()
			s.logger.Info().Msg("all workers exited")
			return nil
		}
		select {
		case <-ctxDone:
			ctxDone = nil
			s.Terminate()
		case <-ticker.C:
		case <-s.kick:
		}
	}
}

// Poll runs one supervision pass: exited workers are logged and, while
// enabled, replaced. It returns the number of live workers.
func (s *Supervisor) Poll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	alive := 0
	for _, sl := range s.slots {
		if sl.proc != nil && !exited(sl.proc) {
			alive++
			continue
		}
		if !s.enabled {
			continue
		}
		oldPID := 0
		if sl.proc != nil {
			oldPID = sl.proc.Pid()
			s.logger.Warn().
				Str("group", sl.group).
				Int("slot", sl.index).
				Int("pid", oldPID).
				Err(sl.proc.Err()).
				Msg("worker exited")
		}
		if err := s.spawnLocked(sl); err != nil {
			s.logger.Error().Err(err).Str("group", sl.group).Int("slot", sl.index).Msg("respawn failed")
			continue
		}
		if oldPID != 0 {
			sl.restarts++
			observability.RecordRespawn(sl.group)
			s.logger.Info().
				Str("group", sl.group).
				Int("slot", sl.index).
				Int("old_pid", oldPID).
				Int("pid", sl.proc.Pid()).
				Msg("worker respawned")
		}
		alive++
	}
	return alive
}

func (s *Supervisor) spawnLocked(sl *slot) error {
	p, err := s.spawner.Spawn(sl.group)
	if err != nil {
		return err
	}
	sl.proc = p
	sl.startedAt = time.Now()
	s.logger.Debug().Str("group", sl.group).Int("slot", sl.index).Int("pid", p.Pid()).Msg("worker started")
	return nil
}

// HandleSignal applies the shutdown protocol for a signal received by the
// front-end process.
func (s *Supervisor) HandleSignal(sig os.Signal) {
	switch sig {
	case os.Interrupt, syscall.SIGQUIT:
		s.Quit()
	case syscall.SIGTERM:
		s.Terminate()
	case syscall.SIGHUP:
		s.Reload()
	}
}

// NotifySignals routes process signals to HandleSignal until ctx ends.
func (s *Supervisor) NotifySignals(ctx context.Context) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				s.logger.Info().Str("signal", sig.String()).Msg("signal received")
				s.HandleSignal(sig)
			}
		}
	}()
}

// Quit disables respawn and asks every child to exit immediately.
func (s *Supervisor) Quit() {
	s.stop(syscall.SIGQUIT)
}

// Terminate disables respawn and asks every child to finish its current job
// and exit.
func (s *Supervisor) Terminate() {
	s.stop(syscall.SIGTERM)
}

func (s *Supervisor) stop(sig os.Signal) {
	s.mu.Lock()
	s.enabled = false
	s.signalLocked(sig)
	if s.escalation == nil && s.cfg.StopTimeout > 0 {
		s.escalation = time.AfterFunc(s.cfg.StopTimeout, s.Kill)
	}
	s.mu.Unlock()
	s.wake()
}

// Reload forwards SIGHUP so each child finishes its job and exits; respawn
// stays enabled so replacements come up with the current binary and config.
func (s *Supervisor) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.logger.Info().Msg("reloading workers")
	s.signalLocked(syscall.SIGHUP)
}

// Kill sends SIGKILL to every child still alive.
func (s *Supervisor) Kill() {
	s.mu.Lock()
	s.enabled = false
	n := s.signalLocked(syscall.SIGKILL)
	s.mu.Unlock()
	if n > 0 {
		s.logger.Warn().Int("workers", n).Msg("stop timeout elapsed; killed workers")
	}
	s.wake()
}

func (s *Supervisor) signalLocked(sig os.Signal) int {
	n := 0
	for _, sl := range s.slots {
		if sl.proc == nil || exited(sl.proc) {
			continue
		}
		if err := sl.proc.Signal(sig); err != nil {
			s.logger.Debug().Err(err).Int("pid", sl.proc.Pid()).Str("signal", sig.String()).Msg("signal worker failed")
			continue
		}
		n++
	}
	return n
}

func (s *Supervisor) stopEscalation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.escalation != nil {
		s.escalation.Stop()
	}
}

func (s *Supervisor) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Supervisor) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Snapshot reports every slot.
func (s *Supervisor) Snapshot() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, 0, len(s.slots))
	for _, sl := range s.slots {
		st := WorkerStatus{Group: sl.group, Slot: sl.index, StartedAt: sl.startedAt, Restarts: sl.restarts}
		if sl.proc != nil {
			st.PID = sl.proc.Pid()
			st.Alive = !exited(sl.proc)
		}
		out = append(out, st)
	}
	return out
}

func (s *Supervisor) Groups() []GroupSpec {
	return append([]GroupSpec(nil), s.groups...)
}
