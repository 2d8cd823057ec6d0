package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/boxrelay/internal/queue"
	"github.com/danmuck/boxrelay/internal/testutil/testlog"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvListenAddr, EnvAdminAddr, EnvIPCDir, EnvJobTimeout, EnvStopTimeout} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "boxrelay.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	path := writeFile(t, t.TempDir(), `
[server]
listen_addr = "127.0.0.1:9000"

[worker]
job_timeout = "0s"
respond_once = false

[[groups]]
name = "echo"

[[groups]]
name = "slow"
workers = 3
inbound_capacity = 16
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if cfg.Server.ListenAddr != "127.0.0.1:9000" || cfg.Server.ChunkSize != def.Server.ChunkSize {
		t.Fatalf("unexpected server section: %+v", cfg.Server)
	}
	if cfg.Worker.JobTimeout != 0 || cfg.Worker.RespondOnce {
		t.Fatalf("worker overlay not applied: %+v", cfg.Worker)
	}
	if cfg.Worker.WatchdogInterval != def.Worker.WatchdogInterval {
		t.Fatalf("watchdog interval should keep its default, got %v", cfg.Worker.WatchdogInterval.Std())
	}
	want := []GroupConfig{
		{Name: "echo", Workers: 1},
		{Name: "slow", Workers: 3, InboundCapacity: 16},
	}
	if !reflect.DeepEqual(cfg.Groups, want) {
		t.Fatalf("groups = %+v, want %+v", cfg.Groups, want)
	}
	if cfg.Supervisor.StopTimeout.Std() != 10*time.Second {
		t.Fatalf("stop timeout default lost: %v", cfg.Supervisor.StopTimeout.Std())
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "[server]\nlisten = \":1\"\n")
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for unknown key, got %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	path := writeFile(t, t.TempDir(), "[supervisor]\nstop_timeout = \"soon\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	testlog.Start(t)
	cases := map[string]func(*Config){
		"empty listen":       func(c *Config) { c.Server.ListenAddr = " " },
		"zero chunk":         func(c *Config) { c.Server.ChunkSize = 0 },
		"zero poll":          func(c *Config) { c.Supervisor.PollInterval = 0 },
		"negative stop":      func(c *Config) { c.Supervisor.StopTimeout = Duration(-time.Second) },
		"no groups":          func(c *Config) { c.Groups = nil },
		"zero workers":       func(c *Config) { c.Groups[0].Workers = 0 },
		"negative capacity":  func(c *Config) { c.Groups[0].OutboundCapacity = -1 },
		"group path":         func(c *Config) { c.Groups[0].Name = "a/b" },
		"duplicate group":    func(c *Config) { c.Groups = append(c.Groups, c.Groups[0]) },
		"unknown level":      func(c *Config) { c.Log.Level = "loud" },
		"zero watchdog tick": func(c *Config) { c.Worker.WatchdogInterval = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := Validate(cfg); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	t.Setenv(EnvListenAddr, "127.0.0.1:7777")
	t.Setenv(EnvAdminAddr, "127.0.0.1:7778")
	t.Setenv(EnvJobTimeout, "2s")

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:7777" || cfg.Admin.ListenAddr != "127.0.0.1:7778" {
		t.Fatalf("addr overrides not applied: %+v %+v", cfg.Server, cfg.Admin)
	}
	if cfg.Worker.JobTimeout.Std() != 2*time.Second {
		t.Fatalf("job timeout override not applied: %v", cfg.Worker.JobTimeout.Std())
	}

	t.Setenv(EnvStopTimeout, "later")
	if _, err := LoadOrDefault(""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for bad duration override, got %v", err)
	}
}

func TestTemplateLoadsAsDefault(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "boxrelay.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("template does not load as default:\n got %+v\nwant %+v", cfg, Default())
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}

func TestConvert(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.Groups = []GroupConfig{{Name: "a", Workers: 2}, {Name: "b", Workers: 1, InboundCapacity: 8}}

	specs := cfg.GroupSpecs()
	if len(specs) != 2 || specs[0].Name != "a" || specs[0].Workers != 2 || specs[1].Workers != 1 {
		t.Fatalf("unexpected specs: %+v", specs)
	}
	groups, err := cfg.QueueGroups()
	if err != nil {
		t.Fatalf("queue groups: %v", err)
	}
	in0, _ := groups[0].Capacity()
	in1, _ := groups[1].Capacity()
	if in0 != queue.DefaultCapacity || in1 != 8 {
		t.Fatalf("unexpected capacities: %d %d", in0, in1)
	}
	if got := cfg.SupervisorConfig().PollInterval; got != 100*time.Millisecond {
		t.Fatalf("poll interval = %v", got)
	}
	if !cfg.WorkerConfig().RespondOnce {
		t.Fatalf("respond once should default to true")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	testlog.Start(t)
	clearEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "[server]\nlisten_addr = \":7100\"\n")

	changes := make(chan Config, 4)
	w := NewWatcher(path, 20*time.Millisecond, func(cfg Config) { changes <- cfg })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// an invalid revision is skipped
	writeFile(t, dir, "[server]\nlisten_addr = \"\"\n")
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "[server]\nlisten_addr = \":7200\"\n")

	deadline := time.After(3 * time.Second)
	for seen := false; !seen; {
		select {
		case cfg := <-changes:
			if cfg.Server.ListenAddr == "" {
				t.Fatalf("invalid revision was delivered: %+v", cfg.Server)
			}
			seen = cfg.Server.ListenAddr == ":7200"
		case <-deadline:
			t.Fatalf("watcher did not report the change")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watcher run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("watcher did not stop")
	}
}
