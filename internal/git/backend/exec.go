package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Outcome is the result of a finished git process. A nil ExitCode means the
// process was terminated by a signal.
type Outcome struct {
	ExitCode *int   `json:"exitCode"`
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Executor runs git to completion and captures its output.
type Executor struct {
	resolver *Resolver
	preparer Preparer
	logger   *slog.Logger
}

// NewExecutor returns an Executor. A nil preparer selects AskpassPreparer
// and a nil logger selects slog.Default().
func NewExecutor(resolver *Resolver, preparer Preparer, logger *slog.Logger) *Executor {
	if preparer == nil {
		preparer = AskpassPreparer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{resolver: resolver, preparer: preparer, logger: logger}
}

func (e *Executor) Resolver() *Resolver { return e.resolver }

// Run executes git with args in dir. A non-zero exit is reported through the
// Outcome; only failures to prepare or start the process return an error.
// Output is trimmed of surrounding whitespace.
func (e *Executor) Run(ctx context.Context, dir string, args []string, auth *Auth) (Outcome, error) {
	return e.run(ctx, dir, args, auth, true)
}

// RunRaw is Run with stdout and stderr returned exactly as git wrote them.
func (e *Executor) RunRaw(ctx context.Context, dir string, args []string, auth *Auth) (Outcome, error) {
	return e.run(ctx, dir, args, auth, false)
}

func (e *Executor) run(ctx context.Context, dir string, args []string, auth *Auth, trim bool) (Outcome, error) {
	if err := sanitizeArgs(args); err != nil {
		return Outcome{}, err
	}
	cfg, err := e.resolver.CommandConfig(dir)
	if err != nil {
		return Outcome{}, err
	}
	creds, err := prepare(e.preparer, auth)
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if err := creds.Release(); err != nil {
			e.logger.Warn("release credentials", slog.Any("error", err))
		}
	}()

	cmd := buildCommand(ctx, cfg, args, creds)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	out := Outcome{Stdout: stdout.String(), Stderr: stderr.String()}
	if trim {
		out.Stdout = strings.TrimSpace(out.Stdout)
		out.Stderr = strings.TrimSpace(out.Stderr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Outcome{}, fmt.Errorf("%w: %w", ErrSpawn, runErr)
		}
		out.ExitCode = exitCode(exitErr.ProcessState)
	} else {
		out.ExitCode = exitCode(cmd.ProcessState)
	}
	out.Success = out.ExitCode != nil && *out.ExitCode == 0

	if out.Success {
		e.logger.Debug("git ok", slog.String("dir", cfg.WorkingDir), slog.String("args", strings.Join(args, " ")))
	} else {
		e.logger.Warn("git exit",
			slog.String("dir", cfg.WorkingDir),
			slog.String("args", strings.Join(args, " ")),
			codeAttr(out.ExitCode),
			slog.String("stderr", strings.TrimSpace(out.Stderr)),
		)
	}
	return out, nil
}

func prepare(p Preparer, auth *Auth) (*Credentials, error) {
	if auth == nil {
		return &Credentials{}, nil
	}
	return p.Prepare(*auth)
}

func buildCommand(ctx context.Context, cfg CommandConfig, args []string, creds *Credentials) *exec.Cmd {
	full := make([]string, 0, len(cfg.Executable.PrefixArgs)+len(args))
	full = append(full, cfg.Executable.PrefixArgs...)
	full = append(full, args...)
	cmd := exec.CommandContext(ctx, cfg.Executable.Program, full...)
	cmd.Dir = cfg.WorkingDir
	// Later entries win for duplicate keys.
	cmd.Env = append(os.Environ(), creds.Environ()...)
	return cmd
}

func exitCode(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}
	code := state.ExitCode()
	if code < 0 {
		return nil
	}
	return &code
}

func codeAttr(code *int) slog.Attr {
	if code == nil {
		return slog.String("code", "signal")
	}
	return slog.Int("code", *code)
}
