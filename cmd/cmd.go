package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thiagokokada/gitcore/internal/buildinfo"
	"github.com/thiagokokada/gitcore/internal/config"
	"github.com/thiagokokada/gitcore/internal/git"
	"github.com/thiagokokada/gitcore/internal/git/backend"
	"github.com/thiagokokada/gitcore/internal/logging"
	"github.com/thiagokokada/gitcore/internal/server"
)

const shutdownTimeout = 5 * time.Second

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("gitcore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	listen := fs.String("listen", "", "address to listen on (overrides config)")
	gitPath := fs.String("git", "", "path to the git executable (overrides config)")
	verbose := fs.Bool("verbose", false, "enable verbose logging")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *gitPath != "" {
		cfg.Git.Path = *gitPath
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	resolver := backend.NewResolver(backend.WithResolverLogger(logger))
	if cfg.Git.Path != "" {
		if _, err := resolver.SetOverride(cfg.Git.Path); err != nil {
			return err
		}
	}
	logGitVersion(ctx, resolver, logger)

	preparer := backend.AskpassPreparer{Dir: cfg.Askpass.Dir}
	bus := backend.NewBus()
	defer bus.Close()
	runner := backend.NewRunner(resolver, preparer, bus, logger)
	svc := git.NewService(resolver, backend.NewExecutor(resolver, preparer, logger), runner, logger)
	handler := server.New(svc, bus, server.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHosts:   cfg.Server.AllowedHosts,
		WatchDelay:     cfg.Watch.Debounce,
		Version:        buildinfo.Version(),
	}, logger)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	logger.Info("gitcore listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("version", buildinfo.Version()),
	)

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	runner.Wait()
	return nil
}

func logGitVersion(ctx context.Context, resolver *backend.Resolver, logger *slog.Logger) {
	info, err := resolver.Version(ctx)
	if err != nil {
		logger.Warn("unable to determine git version", slog.Any("error", err))
		return
	}
	if !info.Supported {
		logger.Warn("git is older than the supported minimum",
			slog.String("version", info.Version),
			slog.String("minimum", backend.MinGitVersion),
		)
		return
	}
	logger.Debug("git version", slog.String("version", info.Version))
}
