package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/boxrelay/internal/logging"
)

const (
	EnvListenAddr  = "BOXRELAY_LISTEN_ADDR"
	EnvAdminAddr   = "BOXRELAY_ADMIN_ADDR"
	EnvIPCDir      = "BOXRELAY_IPC_DIR"
	EnvJobTimeout  = "BOXRELAY_JOB_TIMEOUT"
	EnvStopTimeout = "BOXRELAY_STOP_TIMEOUT"
)

var ErrInvalid = errors.New("config: invalid")

// Duration is a time.Duration written as a string ("250ms", "10s").
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Worker     WorkerConfig     `toml:"worker"`
	Groups     []GroupConfig    `toml:"groups"`
	Admin      AdminConfig      `toml:"admin"`
	Log        LogConfig        `toml:"log"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	ChunkSize  int    `toml:"chunk_size"`
}

type SupervisorConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	// StopTimeout of zero never escalates to SIGKILL.
	StopTimeout Duration `toml:"stop_timeout"`
	// IPCDir holds the group sockets; empty selects a private temp dir.
	IPCDir string `toml:"ipc_dir"`
}

type WorkerConfig struct {
	// JobTimeout of zero disables the watchdog.
	JobTimeout       Duration `toml:"job_timeout"`
	WatchdogInterval Duration `toml:"watchdog_interval"`
	RespondOnce      bool     `toml:"respond_once"`
}

type GroupConfig struct {
	Name             string `toml:"name"`
	Workers          int    `toml:"workers"`
	InboundCapacity  int    `toml:"inbound_capacity"`
	OutboundCapacity int    `toml:"outbound_capacity"`
}

type AdminConfig struct {
	// ListenAddr enables the admin HTTP surface when set.
	ListenAddr string `toml:"listen_addr"`
}

type LogConfig struct {
	Level     string `toml:"level"`
	JSON      bool   `toml:"json"`
	Timestamp bool   `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":7010",
			ChunkSize:  64 * 1024,
		},
		Supervisor: SupervisorConfig{
			PollInterval: Duration(100 * time.Millisecond),
			StopTimeout:  Duration(10 * time.Second),
		},
		Worker: WorkerConfig{
			JobTimeout:       Duration(30 * time.Second),
			WatchdogInterval: Duration(time.Second),
			RespondOnce:      true,
		},
		Groups: []GroupConfig{
			{Name: "default", Workers: 2, InboundCapacity: 1024, OutboundCapacity: 1024},
		},
		Log: LogConfig{Level: "info", Timestamp: true},
	}
}

// fileGroup keeps absent group keys distinguishable from zero.
type fileGroup struct {
	Name             string `toml:"name"`
	Workers          *int   `toml:"workers"`
	InboundCapacity  *int   `toml:"inbound_capacity"`
	OutboundCapacity *int   `toml:"outbound_capacity"`
}

type fileConfig struct {
	Server     ServerConfig     `toml:"server"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Worker     WorkerConfig     `toml:"worker"`
	Groups     []fileGroup      `toml:"groups"`
	Admin      AdminConfig      `toml:"admin"`
	Log        LogConfig        `toml:"log"`
}

// Load reads path over Default, applies BOXRELAY_* overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}
	overlay(&cfg, raw, meta)

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or uses Default with overrides when path is empty.
func LoadOrDefault(path string) (Config, error) {
	if strings.TrimSpace(path) != "" {
		return Load(path)
	}
	cfg := Default()
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg *Config, raw fileConfig, meta toml.MetaData) {
	if meta.IsDefined("server", "listen_addr") {
		cfg.Server.ListenAddr = strings.TrimSpace(raw.Server.ListenAddr)
	}
	if meta.IsDefined("server", "chunk_size") {
		cfg.Server.ChunkSize = raw.Server.ChunkSize
	}
	if meta.IsDefined("supervisor", "poll_interval") {
		cfg.Supervisor.PollInterval = raw.Supervisor.PollInterval
	}
	if meta.IsDefined("supervisor", "stop_timeout") {
		cfg.Supervisor.StopTimeout = raw.Supervisor.StopTimeout
	}
	if meta.IsDefined("supervisor", "ipc_dir") {
		cfg.Supervisor.IPCDir = strings.TrimSpace(raw.Supervisor.IPCDir)
	}
	if meta.IsDefined("worker", "job_timeout") {
		cfg.Worker.JobTimeout = raw.Worker.JobTimeout
	}
	if meta.IsDefined("worker", "watchdog_interval") {
		cfg.Worker.WatchdogInterval = raw.Worker.WatchdogInterval
	}
	if meta.IsDefined("worker", "respond_once") {
		cfg.Worker.RespondOnce = raw.Worker.RespondOnce
	}
	if meta.IsDefined("groups") {
		cfg.Groups = make([]GroupConfig, 0, len(raw.Groups))
		for _, g := range raw.Groups {
			group := GroupConfig{Name: strings.TrimSpace(g.Name), Workers: 1}
			if g.Workers != nil {
				group.Workers = *g.Workers
			}
			if g.InboundCapacity != nil {
				group.InboundCapacity = *g.InboundCapacity
			}
			if g.OutboundCapacity != nil {
				group.OutboundCapacity = *g.OutboundCapacity
			}
			cfg.Groups = append(cfg.Groups, group)
		}
	}
	if meta.IsDefined("admin", "listen_addr") {
		cfg.Admin.ListenAddr = strings.TrimSpace(raw.Admin.ListenAddr)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "json") {
		cfg.Log.JSON = raw.Log.JSON
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}
}

// ApplyEnv applies BOXRELAY_* overrides.
func ApplyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvListenAddr)); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAdminAddr)); v != "" {
		cfg.Admin.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvIPCDir)); v != "" {
		cfg.Supervisor.IPCDir = v
	}
	if err := envDuration(EnvJobTimeout, &cfg.Worker.JobTimeout); err != nil {
		return err
	}
	if err := envDuration(EnvStopTimeout, &cfg.Supervisor.StopTimeout); err != nil {
		return err
	}
	return nil
}

func envDuration(key string, dst *Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var d Duration
	if err := d.UnmarshalText([]byte(raw)); err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, raw, err)
	}
	*dst = d
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Server.ListenAddr) == "" {
		return fmt.Errorf("%w: server.listen_addr is required", ErrInvalid)
	}
	if cfg.Server.ChunkSize <= 0 {
		return fmt.Errorf("%w: server.chunk_size must be positive", ErrInvalid)
	}
	if cfg.Supervisor.PollInterval <= 0 {
		return fmt.Errorf("%w: supervisor.poll_interval must be positive", ErrInvalid)
	}
	if cfg.Supervisor.StopTimeout < 0 {
		return fmt.Errorf("%w: supervisor.stop_timeout must not be negative", ErrInvalid)
	}
	if cfg.Worker.JobTimeout < 0 {
		return fmt.Errorf("%w: worker.job_timeout must not be negative", ErrInvalid)
	}
	if cfg.Worker.WatchdogInterval <= 0 {
		return fmt.Errorf("%w: worker.watchdog_interval must be positive", ErrInvalid)
	}
	if len(cfg.Groups) == 0 {
		return fmt.Errorf("%w: at least one [[groups]] entry is required", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(cfg.Groups))
	for i, g := range cfg.Groups {
		if err := ValidateGroup(g); err != nil {
			return fmt.Errorf("groups[%d] invalid: %w", i, err)
		}
		if _, dup := seen[g.Name]; dup {
			return fmt.Errorf("%w: duplicate group %q", ErrInvalid, g.Name)
		}
		seen[g.Name] = struct{}{}
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok && strings.TrimSpace(cfg.Log.Level) != "" {
		return fmt.Errorf("%w: unknown log.level %q", ErrInvalid, cfg.Log.Level)
	}
	return nil
}

func ValidateGroup(g GroupConfig) error {
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if strings.ContainsAny(g.Name, `/\`) {
		return fmt.Errorf("%w: name %q must not contain path separators", ErrInvalid, g.Name)
	}
	if g.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalid)
	}
	if g.InboundCapacity < 0 || g.OutboundCapacity < 0 {
		return fmt.Errorf("%w: capacities must not be negative", ErrInvalid)
	}
	return nil
}
