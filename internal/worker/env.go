package worker

import (
	"fmt"
	"os"
	"strings"
)

// Process environment set by the supervisor for each worker it starts.
const (
	EnvWorker = "BOXRELAY_WORKER"
	EnvGroup  = "BOXRELAY_WORKER_GROUP"
	EnvSocket = "BOXRELAY_IPC_SOCKET"
)

// IsWorkerProcess reports whether this process was started as a worker.
func IsWorkerProcess() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(EnvWorker)), "true")
}

// Env builds the environment entries for a worker of group on socket.
func Env(group, socket string) []string {
	return []string{
		EnvWorker + "=true",
		EnvGroup + "=" + group,
		EnvSocket + "=" + socket,
	}
}

// Target is the group and socket a worker process must attach to.
type Target struct {
	Group  string
	Socket string
}

func TargetFromEnv() (Target, error) {
	t := Target{
		Group:  strings.TrimSpace(os.Getenv(EnvGroup)),
		Socket: strings.TrimSpace(os.Getenv(EnvSocket)),
	}
	if t.Group == "" {
		return Target{}, fmt.Errorf("worker: %s not set", EnvGroup)
	}
	if t.Socket == "" {
		return Target{}, fmt.Errorf("worker: %s not set", EnvSocket)
	}
	return t, nil
}
