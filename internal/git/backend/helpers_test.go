package backend

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// writeScript writes an executable shell script named git into dir.
func writeScript(dir, body string) (string, error) {
	path := filepath.Join(dir, "git")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// writeFakeGit writes a shell script standing in for git.
func writeFakeGit(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake git scripts need a POSIX shell")
	}
	path, err := writeScript(t.TempDir(), body)
	if err != nil {
		t.Fatalf("write fake git: %v", err)
	}
	return path
}

func notFound(string) (string, error) {
	return "", os.ErrNotExist
}

func resolverFor(path string) *Resolver {
	return NewResolver(WithLookPath(func(string) (string, error) { return path, nil }))
}
