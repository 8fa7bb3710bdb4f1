// Package supervisor implements the process supervisor from spec.md
// §4.9: spawning API and task worker processes via os/exec, a readiness
// handshake before a worker is considered usable, crash-restart with the
// same (type, id, options), a round-robin task-worker pool that skips
// removed workers, and graceful shutdown with a force-terminate fallback.
//
// The round-robin pool is grounded on the teacher's pool_manager.go
// (sync.Pool-shaped object reuse), generalized here from reusable values
// to reusable worker processes: acquire becomes "pick the next live
// worker," release becomes "return it to rotation."
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/koretto/koretto/korerr"
	"github.com/koretto/koretto/taskengine"
	"github.com/koretto/koretto/wire"
)

var _ taskengine.Offloader = (*Supervisor)(nil)

// Spec describes one worker process to spawn.
type Spec struct {
	Type    string
	ID      string
	Command string
	Args    []string
	Options map[string]string
}

// Worker is a running, handshaken worker process.
type Worker struct {
	spec Spec
	cmd  *exec.Cmd
	in   *bufio.Writer
	inMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan wire.ExecuteResultPayload

	removed bool
	exited  chan struct{}
}

func (w *Worker) send(msg wire.Message) error {
	w.inMu.Lock()
	defer w.inMu.Unlock()
	if err := wire.WriteMessage(w.in, msg); err != nil {
		return err
	}
	return w.in.Flush()
}

// Supervisor spawns, restarts, and round-robins worker processes.
type Supervisor struct {
	mu       sync.Mutex
	workers  map[string]*Worker
	pool     []*Worker
	nextIdx  int
	readyFor time.Duration
	logger   *slog.Logger
}

// New creates a Supervisor. readyTimeout bounds how long Spawn waits for
// a worker's Ready handshake before giving up.
func New(readyTimeout time.Duration) *Supervisor {
	return &Supervisor{
		workers:  make(map[string]*Worker),
		readyFor: readyTimeout,
		logger:   slog.Default(),
	}
}

// Spawn starts a worker process per spec and blocks until it reports
// Ready or readyTimeout elapses. On an unexpected process exit, the
// worker is automatically restarted with the same Spec.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Worker, error) {
	w, err := s.start(spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.workers[spec.ID] = w
	if spec.Type == "task" {
		s.pool = append(s.pool, w)
	}
	s.mu.Unlock()

	return w, nil
}

func (s *Supervisor) start(spec Spec) (*Worker, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: starting %s: %w", spec.ID, err)
	}

	w := &Worker{
		spec:    spec,
		cmd:     cmd,
		in:      bufio.NewWriter(stdin),
		pending: make(map[string]chan wire.ExecuteResultPayload),
		exited:  make(chan struct{}),
	}

	readyCh := make(chan error, 1)
	go s.readLoop(w, stdout, readyCh)

	select {
	case err := <-readyCh:
		if err != nil {
			return nil, err
		}
	case <-time.After(s.readyFor):
		_ = cmd.Process.Kill()
		return nil, korerr.New(korerr.TaskWorkerLost, "worker "+spec.ID+" did not report ready in time")
	}

	return w, nil
}

// readLoop consumes messages from the worker's stdout until it closes;
// the first Ready message unblocks Spawn, every ExecuteResult is routed
// to its correlation ID's waiter, and an unexpected close triggers a
// restart.
func (s *Supervisor) readLoop(w *Worker, stdout io.Reader, readyCh chan<- error) {
	r := bufio.NewReader(stdout)
	gotReady := false

	for {
		msg, err := wire.ReadMessage(r)
		if err != nil {
			if !gotReady {
				readyCh <- fmt.Errorf("supervisor: worker %s closed before ready: %w", w.spec.ID, err)
			}
			s.onExit(w)
			return
		}
		switch msg.Kind {
		case wire.Ready:
			if !gotReady {
				gotReady = true
				readyCh <- nil
			}
		case wire.ExecuteResult:
			payload, ok := msg.Payload.(wire.ExecuteResultPayload)
			if !ok {
				continue
			}
			w.pendingMu.Lock()
			ch, ok := w.pending[payload.CorrelationID]
			if ok {
				delete(w.pending, payload.CorrelationID)
			}
			w.pendingMu.Unlock()
			if ok {
				ch <- payload
			}
		}
	}
}

// onExit marks the worker removed from rotation and, unless it was an
// intentional Stop (removed already set), restarts it with the same spec.
func (s *Supervisor) onExit(w *Worker) {
	close(w.exited)
	s.mu.Lock()
	intentional := w.removed
	if !intentional {
		w.removed = true
		s.removeFromPoolLocked(w)
	}
	s.mu.Unlock()

	if intentional {
		return
	}
	s.logger.Warn("supervisor: worker exited unexpectedly, restarting", "id", w.spec.ID, "type", w.spec.Type)
	if _, err := s.Spawn(context.Background(), w.spec); err != nil {
		s.logger.Error("supervisor: restart failed", "id", w.spec.ID, "error", err)
	}
}

func (s *Supervisor) removeFromPoolLocked(w *Worker) {
	for i, pw := range s.pool {
		if pw == w {
			s.pool = append(s.pool[:i], s.pool[i+1:]...)
			return
		}
	}
}

// next returns the next live task worker in round-robin order, skipping
// any removed from rotation.
func (s *Supervisor) next() (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pool)
	if n == 0 {
		return nil, korerr.New(korerr.TaskWorkerLost, "no task workers available")
	}
	for i := 0; i < n; i++ {
		w := s.pool[s.nextIdx%n]
		s.nextIdx++
		if !w.removed {
			return w, nil
		}
	}
	return nil, korerr.New(korerr.TaskWorkerLost, "no live task workers available")
}

// Offload implements taskengine.Offloader by round-robining the task to a
// pooled worker and waiting for its ExecuteResult, correlated by ID.
func (s *Supervisor) Offload(ctx context.Context, correlationID, taskName string, args any) (any, error) {
	w, err := s.next()
	if err != nil {
		return nil, err
	}

	resultCh := make(chan wire.ExecuteResultPayload, 1)
	w.pendingMu.Lock()
	w.pending[correlationID] = resultCh
	w.pendingMu.Unlock()

	if err := w.send(wire.Message{Kind: wire.ExecuteInvoke, Payload: wire.ExecuteInvokePayload{
		CorrelationID: correlationID,
		TaskName:      taskName,
		Args:          args,
	}}); err != nil {
		return nil, korerr.Wrap(korerr.TaskWorkerLost, "sending task to worker", err)
	}

	select {
	case <-ctx.Done():
		return nil, korerr.New(korerr.TaskWorkerLost, "context cancelled waiting for task result")
	case <-w.exited:
		return nil, korerr.New(korerr.TaskWorkerLost, "worker exited while task was in flight")
	case result := <-resultCh:
		if result.ErrorKind != "" {
			return nil, korerr.New(korerr.Kind(result.ErrorKind), result.ErrorText)
		}
		return result.Value, nil
	}
}

// Stop requests a graceful shutdown of worker, giving it grace to exit on
// its own before force-terminating the process.
func (s *Supervisor) Stop(ctx context.Context, worker *Worker, grace time.Duration) error {
	s.mu.Lock()
	worker.removed = true
	s.removeFromPoolLocked(worker)
	s.mu.Unlock()

	_ = worker.send(wire.Message{Kind: wire.Stop, Payload: wire.StopPayload{GraceMillis: grace.Milliseconds()}})

	select {
	case <-worker.exited:
		return nil
	case <-time.After(grace):
		if err := worker.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("supervisor: force-killing %s: %w", worker.spec.ID, err)
		}
		<-worker.exited
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll gracefully stops every known worker.
func (s *Supervisor) StopAll(ctx context.Context, grace time.Duration) error {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	var first error
	for _, w := range workers {
		if err := s.Stop(ctx, w, grace); err != nil && first == nil {
			first = err
		}
	}
	return first
}
