package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is one running worker.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	// Done is closed once the process exited.
	Done() <-chan struct{}
	// Err is the wait error, valid after Done.
	Err() error
}

// Spawner starts worker processes for a group.
type Spawner interface {
	Spawn(group string) (Process, error)
}

// ExecSpawner re-executes a binary with worker environment entries appended.
type ExecSpawner struct {
	Path   string
	Args   []string
	Env    func(group string) []string
	Stdout io.Writer
	Stderr io.Writer
}

// SelfSpawner re-executes the running binary with its own arguments.
func SelfSpawner(env func(group string) []string) (ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return ExecSpawner{}, fmt.Errorf("supervisor: resolve executable: %w", err)
	}
	return ExecSpawner{
		Path:   path,
		Args:   append([]string(nil), os.Args[1:]...),
		Env:    env,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

func (s ExecSpawner) Spawn(group string) (Process, error) {
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = os.Environ()
	if s.Env != nil {
		cmd.Env = append(cmd.Env, s.Env(group)...)
	}
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start worker for group %q: %w", group, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
