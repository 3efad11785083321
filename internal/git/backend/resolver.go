package backend

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Executable describes how to invoke git: a program plus any arguments that
// must precede the git arguments (a platform wrapper).
type Executable struct {
	Program     string
	PrefixArgs  []string
	Description string
}

// Display returns the program with its prefix arguments.
func (e Executable) Display() string {
	if len(e.PrefixArgs) == 0 {
		return e.Program
	}
	return e.Program + " " + strings.Join(e.PrefixArgs, " ")
}

// CommandConfig is built per invocation.
type CommandConfig struct {
	Executable Executable
	WorkingDir string
}

// PathInfo reports the resolver state.
type PathInfo struct {
	DetectedPath   string `json:"detectedPath,omitempty"`
	ConfiguredPath string `json:"configuredPath,omitempty"`
	EffectivePath  string `json:"effectivePath,omitempty"`
	UsesWrapper    bool   `json:"usesWrapper"`
}

// Resolver decides which binary represents git. It holds the detected path
// and the user override; reads share the lock, updates are exclusive.
type Resolver struct {
	mu         sync.RWMutex
	detected   string
	configured string

	lookPath func(string) (string, error)
	goos     string
	logger   *slog.Logger
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithLookPath replaces exec.LookPath for detection.
func WithLookPath(fn func(string) (string, error)) ResolverOption {
	return func(r *Resolver) { r.lookPath = fn }
}

// WithGOOS overrides the platform used to pick the fallback executable.
func WithGOOS(goos string) ResolverOption {
	return func(r *Resolver) { r.goos = goos }
}

// WithResolverLogger sets the logger used for detection messages.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a Resolver and runs detection once.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		lookPath: exec.LookPath,
		goos:     runtime.GOOS,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.detected = r.detect()
	return r
}

func (r *Resolver) detect() string {
	path, err := r.lookPath("git")
	if err != nil {
		r.logger.Debug("git not found on PATH", slog.Any("error", err))
		return ""
	}
	r.logger.Debug("detected git", slog.String("path", path))
	return path
}

// Refresh repeats PATH detection.
func (r *Resolver) Refresh() PathInfo {
	detected := r.detect()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detected = detected
	return r.infoLocked()
}

// SetOverride configures an explicit git path. The path must exist.
func (r *Resolver) SetOverride(path string) (PathInfo, error) {
	if strings.TrimSpace(path) == "" {
		return PathInfo{}, invalidPath("git executable path cannot be empty")
	}
	if _, err := os.Stat(path); err != nil {
		return PathInfo{}, invalidPath("configured git executable path does not exist: %s", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured = path
	return r.infoLocked(), nil
}

// ClearOverride removes the explicit git path.
func (r *Resolver) ClearOverride() PathInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured = ""
	return r.infoLocked()
}

// Info reports detected, configured and effective paths.
func (r *Resolver) Info() PathInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.infoLocked()
}

func (r *Resolver) infoLocked() PathInfo {
	info := PathInfo{
		DetectedPath:   r.detected,
		ConfiguredPath: r.configured,
	}
	if exe, err := r.resolveLocked(); err == nil {
		info.EffectivePath = exe.Display()
		info.UsesWrapper = len(exe.PrefixArgs) > 0
	}
	return info
}

// Resolve returns the executable to run: override, then detected, then the
// platform fallback.
func (r *Resolver) Resolve() (Executable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked()
}

func (r *Resolver) resolveLocked() (Executable, error) {
	if r.configured != "" {
		if _, err := os.Stat(r.configured); err != nil {
			return Executable{}, fmt.Errorf("%w: configured path %s is gone", ErrMissingExecutable, r.configured)
		}
		return Executable{Program: r.configured, Description: "user override"}, nil
	}
	if r.detected != "" {
		return Executable{Program: r.detected, Description: "detected git"}, nil
	}
	if r.goos == "windows" {
		return Executable{
			Program:     "powershell.exe",
			PrefixArgs:  []string{"-NoProfile", "-Command", "git"},
			Description: "powershell wrapper",
		}, nil
	}
	return Executable{Program: "git", Description: "git on PATH"}, nil
}

// CommandConfig resolves the executable and the working directory. An empty
// dir selects the process working directory.
func (r *Resolver) CommandConfig(dir string) (CommandConfig, error) {
	exe, err := r.Resolve()
	if err != nil {
		return CommandConfig{}, err
	}
	var workDir string
	if dir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return CommandConfig{}, invalidPath("%v", err)
		}
	} else {
		workDir, err = CanonicalizePath(dir)
		if err != nil {
			return CommandConfig{}, err
		}
	}
	return CommandConfig{Executable: exe, WorkingDir: workDir}, nil
}

// CanonicalizePath returns the absolute, symlink-free directory for path. A
// path naming a file resolves to its parent directory.
func CanonicalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", invalidPath("path cannot be empty")
	}
	dir := path
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		dir = filepath.Dir(path)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", invalidPath("%v", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", invalidPath("path does not exist: %s", path)
	}
	return resolved, nil
}
