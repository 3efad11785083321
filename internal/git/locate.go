package git

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// Locate walks from path (its parent when path is a file) towards the
// filesystem root looking for a ".git" entry. A ".git" directory is the
// metadata dir; a ".git" file points to it with a "gitdir:" line.
func Locate(path string) RepositoryInfo {
	current := path
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		current = filepath.Dir(path)
	}
	for {
		if gitDir, ok := resolveGitDir(current); ok {
			info := RepositoryInfo{
				IsRepository: true,
				WorktreeRoot: current,
				GitDir:       gitDir,
			}
			info.HeadName, info.Detached = readHead(gitDir)
			return info
		}
		parent := filepath.Dir(current)
		if parent == current {
			return RepositoryInfo{}
		}
		current = parent
	}
}

func resolveGitDir(dir string) (string, bool) {
	dotGit := filepath.Join(dir, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		return dotGit, true
	}

	f, err := os.Open(dotGit)
	if err != nil {
		return "", false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rest, ok := strings.CutPrefix(scanner.Text(), "gitdir:")
		if !ok {
			continue
		}
		gitDir := strings.TrimSpace(rest)
		if !filepath.IsAbs(gitDir) {
			gitDir = filepath.Join(dir, gitDir)
		}
		return filepath.Clean(gitDir), true
	}
	return "", false
}

// readHead reads HEAD from the metadata dir without running git.
func readHead(gitDir string) (name string, detached bool) {
	storage := filesystem.NewStorage(osfs.New(gitDir), cache.NewObjectLRUDefault())
	ref, err := storage.Reference(plumbing.HEAD)
	if err != nil {
		slog.Debug("read HEAD", slog.String("gitdir", gitDir), slog.Any("error", err))
		return "", false
	}
	switch ref.Type() {
	case plumbing.SymbolicReference:
		return ref.Target().Short(), false
	case plumbing.HashReference:
		return "", true
	default:
		return "", false
	}
}
