package config

import (
	"github.com/danmuck/boxrelay/internal/frontend"
	"github.com/danmuck/boxrelay/internal/logging"
	"github.com/danmuck/boxrelay/internal/queue"
	"github.com/danmuck/boxrelay/internal/supervisor"
	"github.com/danmuck/boxrelay/internal/worker"
)

func (c Config) FrontendConfig() frontend.ServerConfig {
	return frontend.ServerConfig{ChunkSize: c.Server.ChunkSize}
}

func (c Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		PollInterval: c.Supervisor.PollInterval.Std(),
		StopTimeout:  c.Supervisor.StopTimeout.Std(),
	}
}

func (c Config) WorkerConfig() worker.Config {
	return worker.Config{
		JobTimeout:       c.Worker.JobTimeout.Std(),
		WatchdogInterval: c.Worker.WatchdogInterval.Std(),
		RespondOnce:      c.Worker.RespondOnce,
	}
}

func (c Config) GroupSpecs() []supervisor.GroupSpec {
	specs := make([]supervisor.GroupSpec, 0, len(c.Groups))
	for _, g := range c.Groups {
		specs = append(specs, supervisor.GroupSpec{Name: g.Name, Workers: g.Workers})
	}
	return specs
}

// QueueGroups builds the bounded queue pair of every configured group.
func (c Config) QueueGroups() ([]*queue.Group, error) {
	groups := make([]*queue.Group, 0, len(c.Groups))
	for _, g := range c.Groups {
		qg, err := queue.NewGroup(g.Name, g.InboundCapacity, g.OutboundCapacity)
		if err != nil {
			return nil, err
		}
		groups = append(groups, qg)
	}
	return groups, nil
}

func (c Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{
		Level:     level,
		Timestamp: c.Log.Timestamp,
		NoColor:   c.Log.NoColor,
		JSON:      c.Log.JSON,
	}
}
