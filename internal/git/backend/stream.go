package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// maxStreamLine bounds the data carried by one output event.
const maxStreamLine = 1 << 20

// StreamRequest describes a git invocation whose output is published as
// events. An empty CommandID is replaced by a generated one.
type StreamRequest struct {
	Dir       string
	Args      []string
	Auth      *Auth
	CommandID string
}

// Runner starts git commands in the background and publishes their output.
type Runner struct {
	resolver *Resolver
	preparer Preparer
	events   Publisher
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func NewRunner(resolver *Resolver, preparer Preparer, events Publisher, logger *slog.Logger) *Runner {
	if preparer == nil {
		preparer = AskpassPreparer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		resolver: resolver,
		preparer: preparer,
		events:   events,
		logger:   logger,
		active:   make(map[string]struct{}),
	}
}

// Start validates the request and launches git. Errors detected before the
// process is spawned are returned; later failures arrive as an error event.
// The returned id correlates every event of this invocation.
func (r *Runner) Start(req StreamRequest) (string, error) {
	if err := sanitizeArgs(req.Args); err != nil {
		return "", err
	}
	if strings.ContainsRune(req.CommandID, 0) {
		return "", invalidArgument("command id may not contain null bytes")
	}
	cfg, err := r.resolver.CommandConfig(req.Dir)
	if err != nil {
		return "", err
	}
	id := req.CommandID
	if id == "" {
		id = uuid.NewString()
	}
	if !r.acquire(id) {
		return "", invalidArgument("command %s is already running", id)
	}
	creds, err := prepare(r.preparer, req.Auth)
	if err != nil {
		r.release(id)
		return "", err
	}

	cmd := buildCommand(context.Background(), cfg, req.Args, creds)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(id, cmd, creds)
	}()
	return id, nil
}

// Running reports whether a command with id is in flight.
func (r *Runner) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// Wait blocks until every started command has published its terminal event.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; ok {
		return false
	}
	r.active[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

func (r *Runner) run(id string, cmd *exec.Cmd, creds *Credentials) {
	defer r.release(id)
	defer func() {
		if err := creds.Release(); err != nil {
			r.logger.Warn("release credentials", slog.String("command", id), slog.Any("error", err))
		}
	}()

	fail := func(err error) {
		r.logger.Warn("git stream failed", slog.String("command", id), slog.Any("error", err))
		r.events.Publish(Event{CommandID: id, Kind: EventError, Data: err.Error()})
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fail(fmt.Errorf("%w: stdout pipe: %w", ErrSpawn, err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		fail(fmt.Errorf("%w: stderr pipe: %w", ErrSpawn, err))
		return
	}
	if err := cmd.Start(); err != nil {
		fail(fmt.Errorf("%w: %w", ErrSpawn, err))
		return
	}
	r.logger.Debug("git stream started", slog.String("command", id), slog.String("args", strings.Join(cmd.Args[1:], " ")))

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		readErr error
	)
	forward := func(rd io.Reader, kind EventKind) {
		defer wg.Done()
		if err := r.forwardLines(id, rd, kind); err != nil {
			errMu.Lock()
			readErr = errors.Join(readErr, fmt.Errorf("read %s: %w", kind, err))
			errMu.Unlock()
		}
	}
	wg.Add(2)
	go forward(stdout, EventStdout)
	go forward(stderr, EventStderr)
	wg.Wait()

	waitErr := cmd.Wait()
	if readErr != nil {
		fail(readErr)
		return
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		fail(waitErr)
		return
	}
	code := exitCode(cmd.ProcessState)
	success := code != nil && *code == 0
	r.logger.Debug("git stream completed", slog.String("command", id), codeAttr(code))
	r.events.Publish(Event{CommandID: id, Kind: EventCompleted, ExitCode: code, Success: &success})
}

// forwardLines publishes each line of rd. Lines longer than maxStreamLine
// are published in pieces. On a read error the rest of the stream is
// discarded so the child never blocks on a full pipe.
func (r *Runner) forwardLines(id string, rd io.Reader, kind EventKind) error {
	br := bufio.NewReaderSize(rd, 64*1024)
	var line []byte
	publish := func() {
		r.events.Publish(Event{CommandID: id, Kind: kind, Data: string(line)})
		line = line[:0]
	}
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				publish()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			_, _ = io.Copy(io.Discard, rd)
			return err
		}
		line = append(line, chunk...)
		if !isPrefix || len(line) >= maxStreamLine {
			publish()
		}
	}
}
