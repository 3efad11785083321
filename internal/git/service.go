package git

import (
	"context"
	"log/slog"
	"strings"

	"github.com/thiagokokada/gitcore/internal/git/backend"
)

// Service exposes the git operations used by the application. Capture
// operations block until git exits; FetchAll, Pull and Push stream their
// output through the runner's event publisher and return a command id.
type Service struct {
	resolver *backend.Resolver
	exec     *backend.Executor
	runner   *backend.Runner
	logger   *slog.Logger
}

func NewService(resolver *backend.Resolver, exec *backend.Executor, runner *backend.Runner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{resolver: resolver, exec: exec, runner: runner, logger: logger}
}

// SwitchOptions controls SwitchBranch.
type SwitchOptions struct {
	Create bool
	Track  bool
}

type StashPushOptions struct {
	Message          string
	IncludeUntracked bool
}

// StashApplyOptions selects a stash (latest when Name is empty). Drop pops
// the stash instead of applying it.
type StashApplyOptions struct {
	Name string
	Drop bool
}

// RemoteRequest describes a streamed network operation. Remote and Branch
// are appended to the git arguments when set.
type RemoteRequest struct {
	RepositoryPath string
	Remote         string
	Branch         string
	Auth           *backend.Auth
	CommandID      string
}

func (s *Service) PathInfo() backend.PathInfo {
	return s.resolver.Info()
}

// SetExecutable stores an explicit git path; an empty path clears it.
func (s *Service) SetExecutable(path string) (backend.PathInfo, error) {
	if path == "" {
		return s.ClearExecutable(), nil
	}
	info, err := s.resolver.SetOverride(path)
	if err != nil {
		return backend.PathInfo{}, err
	}
	s.logger.Info("git path configured", slog.String("path", path))
	return info, nil
}

func (s *Service) ClearExecutable() backend.PathInfo {
	s.logger.Info("git path cleared")
	return s.resolver.ClearOverride()
}

func (s *Service) GitVersion(ctx context.Context) (backend.VersionInfo, error) {
	return s.resolver.Version(ctx)
}

// DetectRepository canonicalizes path and locates the enclosing repository.
func (s *Service) DetectRepository(path string) (RepositoryInfo, error) {
	dir, err := backend.CanonicalizePath(path)
	if err != nil {
		return RepositoryInfo{}, err
	}
	return Locate(dir), nil
}

func (s *Service) Status(ctx context.Context, repo string) (Status, error) {
	out, err := s.exec.Run(ctx, repo, []string{"status", "--branch", "--porcelain=v1", "-z"}, nil)
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(out.Stdout), nil
}

func (s *Service) Stage(ctx context.Context, repo string, paths []string) (backend.Outcome, error) {
	args, err := pathArgs([]string{"add", "--"}, paths)
	if err != nil {
		return backend.Outcome{}, err
	}
	return s.exec.Run(ctx, repo, args, nil)
}

func (s *Service) Unstage(ctx context.Context, repo string, paths []string) (backend.Outcome, error) {
	args, err := pathArgs([]string{"restore", "--staged", "--"}, paths)
	if err != nil {
		return backend.Outcome{}, err
	}
	return s.exec.Run(ctx, repo, args, nil)
}

func pathArgs(args, paths []string) ([]string, error) {
	if len(paths) == 0 {
		_, err := backend.SanitizeArg("", "paths")
		return nil, err
	}
	for _, p := range paths {
		p, err := backend.SanitizeArg(p, "path")
		if err != nil {
			return nil, err
		}
		args = append(args, p)
	}
	return args, nil
}

func (s *Service) Commit(ctx context.Context, repo, message string) (backend.Outcome, error) {
	msg, err := backend.SanitizeArg(strings.TrimSpace(message), "message")
	if err != nil {
		return backend.Outcome{}, err
	}
	return s.exec.Run(ctx, repo, []string{"commit", "-m", msg}, nil)
}

func (s *Service) Log(ctx context.Context, repo string) ([]LogEntry, error) {
	out, err := s.exec.Run(ctx, repo, []string{"log", "--oneline", "--decorate", "-n", "100", "--no-color"}, nil)
	if err != nil {
		return nil, err
	}
	return ParseLog(out.Stdout), nil
}

func (s *Service) Graph(ctx context.Context, repo string) ([]GraphEntry, error) {
	args := []string{"log", "--date=iso-strict", "--pretty=format:" + graphFormat, "-n", "200"}
	out, err := s.exec.Run(ctx, repo, args, nil)
	if err != nil {
		return nil, err
	}
	return ParseGraph(out.Stdout), nil
}

func (s *Service) CommitDetails(ctx context.Context, repo, commit string) (CommitDetails, error) {
	commit, err := backend.SanitizeArg(commit, "commit")
	if err != nil {
		return CommitDetails{}, err
	}
	args := []string{"show", "--name-status", "--date=iso-strict", "--pretty=format:" + commitDetailsFormat, "--no-color", commit}
	out, err := s.exec.Run(ctx, repo, args, nil)
	if err != nil {
		return CommitDetails{}, err
	}
	return ParseCommitDetails(out.Stdout), nil
}

func (s *Service) Branches(ctx context.Context, repo string) (Branches, error) {
	out, err := s.exec.Run(ctx, repo, []string{"branch", "-a", "--no-color"}, nil)
	if err != nil {
		return Branches{}, err
	}
	return ParseBranches(out.Stdout), nil
}

// SwitchBranch runs "git switch" and returns the branch name.
func (s *Service) SwitchBranch(ctx context.Context, repo, branch string, opts SwitchOptions) (string, error) {
	branch, err := backend.SanitizeArg(branch, "branch")
	if err != nil {
		return "", err
	}
	args := []string{"switch"}
	if opts.Create {
		args = append(args, "-c")
	}
	if opts.Track {
		args = append(args, "--track")
	}
	args = append(args, branch)
	out, err := s.exec.Run(ctx, repo, args, nil)
	if err != nil {
		return "", err
	}
	return branch, commandError("switch branch", out)
}

func (s *Service) DeleteBranch(ctx context.Context, repo, branch string, force bool) (string, error) {
	branch, err := backend.SanitizeArg(branch, "branch")
	if err != nil {
		return "", err
	}
	flag := "-d"
	if force {
		flag = "-D"
	}
	out, err := s.exec.Run(ctx, repo, []string{"branch", flag, branch}, nil)
	if err != nil {
		return "", err
	}
	return branch, commandError("delete branch", out)
}

func (s *Service) Checkout(ctx context.Context, repo, target string) (string, error) {
	target, err := backend.SanitizeArg(target, "target")
	if err != nil {
		return "", err
	}
	out, err := s.exec.Run(ctx, repo, []string{"checkout", target}, nil)
	if err != nil {
		return "", err
	}
	return target, commandError("checkout target", out)
}

func (s *Service) StashList(ctx context.Context, repo string) ([]StashEntry, error) {
	out, err := s.exec.Run(ctx, repo, []string{"stash", "list", "--pretty=format:" + stashFormat}, nil)
	if err != nil {
		return nil, err
	}
	return ParseStashList(out.Stdout), nil
}

func (s *Service) StashPush(ctx context.Context, repo string, opts StashPushOptions) (backend.Outcome, error) {
	args := []string{"stash", "push"}
	if opts.IncludeUntracked {
		args = append(args, "-u")
	}
	if opts.Message != "" {
		msg, err := backend.SanitizeArg(opts.Message, "message")
		if err != nil {
			return backend.Outcome{}, err
		}
		args = append(args, "-m", msg)
	}
	return s.exec.Run(ctx, repo, args, nil)
}

func (s *Service) StashApply(ctx context.Context, repo string, opts StashApplyOptions) (backend.Outcome, error) {
	args := []string{"stash", "apply"}
	if opts.Drop {
		args[1] = "pop"
	}
	if opts.Name != "" {
		name, err := backend.SanitizeArg(opts.Name, "stash name")
		if err != nil {
			return backend.Outcome{}, err
		}
		args = append(args, name)
	}
	return s.exec.Run(ctx, repo, args, nil)
}

func (s *Service) Remotes(ctx context.Context, repo string) ([]Remote, error) {
	out, err := s.exec.Run(ctx, repo, []string{"remote", "-v"}, nil)
	if err != nil {
		return nil, err
	}
	return ParseRemotes(out.Stdout), nil
}

// Run passes args to git unchanged apart from sanitation and returns the
// output untrimmed.
func (s *Service) Run(ctx context.Context, dir string, args []string) (backend.Outcome, error) {
	if len(args) == 0 {
		_, err := backend.SanitizeArg("", "arguments")
		return backend.Outcome{}, err
	}
	return s.exec.RunRaw(ctx, dir, args, nil)
}

// FetchAll fetches every remote, or only req.Remote when set.
func (s *Service) FetchAll(req RemoteRequest) (string, error) {
	if req.Remote == "" && req.Branch == "" {
		return s.stream(req, "fetch", "--all")
	}
	return s.stream(req, "fetch")
}

func (s *Service) Pull(req RemoteRequest) (string, error) {
	return s.stream(req, "pull")
}

func (s *Service) Push(req RemoteRequest) (string, error) {
	return s.stream(req, "push")
}

func (s *Service) stream(req RemoteRequest, args ...string) (string, error) {
	if req.Branch != "" && req.Remote == "" {
		_, err := backend.SanitizeArg("", "remote")
		return "", err
	}
	if req.Remote != "" {
		remote, err := backend.SanitizeArg(req.Remote, "remote")
		if err != nil {
			return "", err
		}
		args = append(args, remote)
	}
	if req.Branch != "" {
		branch, err := backend.SanitizeArg(req.Branch, "branch")
		if err != nil {
			return "", err
		}
		args = append(args, branch)
	}
	id, err := s.runner.Start(backend.StreamRequest{
		Dir:       req.RepositoryPath,
		Args:      args,
		Auth:      req.Auth,
		CommandID: req.CommandID,
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("git stream", slog.String("command", id), slog.String("args", strings.Join(args, " ")))
	return id, nil
}
