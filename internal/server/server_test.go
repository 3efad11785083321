package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thiagokokada/gitcore/internal/git"
	"github.com/thiagokokada/gitcore/internal/git/backend"
	"github.com/thiagokokada/gitcore/internal/watch"
)

type fixture struct {
	srv *httptest.Server
	svc *git.Service
	dir string
}

// newFixture serves a Server backed by a shell script standing in for git.
// The script records its arguments to DIR/args and replays DIR/stdout,
// DIR/stderr and DIR/exit.
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake git scripts need a POSIX shell")
	}
	dir := t.TempDir()
	script := strings.ReplaceAll(`#!/bin/sh
printf '%s\n' "$@" > "DIR/args"
[ -f "DIR/stdout" ] && cat "DIR/stdout"
[ -f "DIR/stderr" ] && cat "DIR/stderr" >&2
[ -f "DIR/exit" ] && exit "$(cat "DIR/exit")"
exit 0
`, "DIR", dir)
	gitPath := filepath.Join(dir, "git")
	if err := os.WriteFile(gitPath, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	resolver := backend.NewResolver(backend.WithLookPath(func(string) (string, error) { return gitPath, nil }))
	bus := backend.NewBus()
	svc := git.NewService(
		resolver,
		backend.NewExecutor(resolver, nil, nil),
		backend.NewRunner(resolver, nil, bus, nil),
		nil,
	)
	srv := httptest.NewServer(New(svc, bus, opts, nil))
	t.Cleanup(func() {
		srv.Close()
		bus.Close()
	})
	return &fixture{srv: srv, svc: svc, dir: dir}
}

func (f *fixture) respond(t *testing.T, stdout, stderr string, code int) {
	t.Helper()
	for name, content := range map[string]string{
		"stdout": stdout,
		"stderr": stderr,
		"exit":   strconv.Itoa(code),
	} {
		if err := os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// do sends body as JSON.
func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	header := http.Header{}
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	return f.send(t, method, path, body, header)
}

func (f *fixture) send(t *testing.T, method, path string, body any, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var rd bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		rd.WriteString(b)
	default:
		if err := json.NewEncoder(&rd).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &rd)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if host := header.Get("Host"); host != "" {
		req.Host = host
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, out.Bytes()
}

func (f *fixture) ran() bool {
	_, err := os.Stat(filepath.Join(f.dir, "args"))
	return err == nil
}

func (f *fixture) dial(t *testing.T, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: branch is empty", backend.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("%w: /nope", backend.ErrInvalidPath), http.StatusBadRequest},
		{&git.CommandError{Op: "checkout target"}, http.StatusConflict},
		{fmt.Errorf("%w: gone", backend.ErrMissingExecutable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: exec format error", backend.ErrSpawn), http.StatusInternalServerError},
		{fmt.Errorf("%w: origin", errForbidden), http.StatusForbidden},
		{fmt.Errorf("%w, got text/plain", errUnsupportedMediaType), http.StatusUnsupportedMediaType},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAuthRequest(t *testing.T) {
	t.Parallel()

	var nilReq *authRequest
	if auth, err := nilReq.toAuth(); auth != nil || err != nil {
		t.Fatalf("nil auth = %v, %v", auth, err)
	}

	tests := []struct {
		req      authRequest
		kind     backend.AuthKind
		username string
	}{
		{authRequest{Kind: "token", Token: "abc"}, backend.AuthToken, "git"},
		{authRequest{Kind: "token", Token: "abc", Username: "bot"}, backend.AuthToken, "bot"},
		{authRequest{Kind: "user_password", Username: "alice", Password: "pw"}, backend.AuthUserPassword, "alice"},
		{authRequest{Kind: "ssh_command", Command: "ssh -i key"}, backend.AuthSSHCommand, ""},
	}
	for _, tt := range tests {
		auth, err := tt.req.toAuth()
		if err != nil {
			t.Fatalf("toAuth(%+v): %v", tt.req, err)
		}
		if auth.Kind() != tt.kind || auth.Username() != tt.username {
			t.Fatalf("toAuth(%+v) = %v", tt.req, auth)
		}
	}

	if _, err := (&authRequest{Kind: "kerberos"}).toAuth(); !errors.Is(err, backend.ErrInvalidArgument) {
		t.Fatalf("unknown kind err = %v", err)
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	s := New(nil, nil, Options{AllowedOrigins: []string{"http://localhost:5173"}}, nil)
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://127.0.0.1:7420", true},
		{"http://localhost:5173", true},
		{"http://evil.example", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:7420/ws/events", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := s.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestPathInfoAndOverride(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{Version: "v1.2.3"})

	resp, body := f.do(t, http.MethodGet, "/api/git/info", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Server"); got != "gitcore/v1.2.3" {
		t.Fatalf("Server header = %q", got)
	}
	info := decode[backend.PathInfo](t, body)
	if info.DetectedPath == "" || info.ConfiguredPath != "" {
		t.Fatalf("unexpected info: %+v", info)
	}

	resp, body = f.do(t, http.MethodPut, "/api/git/path", map[string]string{"path": filepath.Join(f.dir, "missing")})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing override status = %d: %s", resp.StatusCode, body)
	}
	if msg := decode[errorResponse](t, body).Message; msg == "" {
		t.Fatal("empty error message")
	}

	override := filepath.Join(f.dir, "git")
	resp, body = f.do(t, http.MethodPut, "/api/git/path", map[string]string{"path": override})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set override status = %d: %s", resp.StatusCode, body)
	}
	if info := decode[backend.PathInfo](t, body); info.ConfiguredPath == "" {
		t.Fatalf("override not stored: %+v", info)
	}

	resp, body = f.do(t, http.MethodPut, "/api/git/path", `{"path": null}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear override status = %d: %s", resp.StatusCode, body)
	}
	if info := decode[backend.PathInfo](t, body); info.ConfiguredPath != "" {
		t.Fatalf("override not cleared: %+v", info)
	}
}

func TestMissingExecutable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	gone := filepath.Join(t.TempDir(), "git")
	if err := os.WriteFile(gone, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SetExecutable(gone); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}

	resp, body := f.do(t, http.MethodGet, "/api/status?repositoryPath="+f.dir, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestStatusRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.respond(t, "## main...origin/main [ahead 2]\x00M  a.go\x00?? new.txt\x00", "", 0)

	resp, body := f.do(t, http.MethodGet, "/api/status?repositoryPath="+f.dir, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	st := decode[git.Status](t, body)
	if st.Branch != "main" || st.Upstream != "origin/main" || st.Ahead != 2 {
		t.Fatalf("unexpected branch info: %+v", st)
	}
	if len(st.Staged) != 1 || st.Staged[0].Path != "a.go" || len(st.Untracked) != 1 {
		t.Fatalf("unexpected entries: %+v", st)
	}
}

func TestCommitDetailsRoute(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.respond(t, "abc123\nAlice\n2024-01-02T03:04:05+00:00\nSubject\n\nM\tREADME.md\n", "", 0)

	resp, body := f.do(t, http.MethodGet, "/api/commit?repositoryPath="+f.dir+"&commit=abc123", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	details := decode[git.CommitDetails](t, body)
	if details.Commit != "abc123" || len(details.Files) != 1 {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestMutationErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"stage_no_paths", "/api/stage", pathsRequest{RepositoryPath: f.dir}, http.StatusBadRequest},
		{"blank_commit", "/api/commit", commitRequest{RepositoryPath: f.dir, Message: "  "}, http.StatusBadRequest},
		{"empty_branch", "/api/branch/switch", switchRequest{RepositoryPath: f.dir}, http.StatusBadRequest},
		{"malformed_json", "/api/checkout", `{"target":`, http.StatusBadRequest},
		{"unknown_field", "/api/checkout", `{"target":"main","bogus":1}`, http.StatusBadRequest},
		{"bad_repository", "/api/run", runRequest{RepositoryPath: filepath.Join(f.dir, "absent", "deeper"), Args: []string{"status"}}, http.StatusBadRequest},
		{"branch_without_remote", "/api/pull", remoteRequest{RepositoryPath: f.dir, Branch: "main"}, http.StatusBadRequest},
		{"unknown_auth", "/api/push", remoteRequest{RepositoryPath: f.dir, Auth: &authRequest{Kind: "none"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestCheckoutConflict(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.respond(t, "", "error: pathspec 'nope' did not match\n", 1)

	resp, body := f.do(t, http.MethodPost, "/api/checkout", checkoutRequest{RepositoryPath: f.dir, Target: "nope"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if msg := decode[errorResponse](t, body).Message; msg != "error: pathspec 'nope' did not match" {
		t.Fatalf("message = %q", msg)
	}
}

func TestCommitReturnsOutcome(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.respond(t, "", "nothing to commit\n", 1)

	resp, body := f.do(t, http.MethodPost, "/api/commit", commitRequest{RepositoryPath: f.dir, Message: "msg"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	out := decode[backend.Outcome](t, body)
	if out.Success || out.ExitCode == nil || *out.ExitCode != 1 || out.Stderr != "nothing to commit" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestFetchStreamsEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	f.respond(t, "line one\nline two\n", "remote: done\n", 0)

	conn := f.dial(t, "/ws/events?commandId=fetch-1", nil)

	resp, body := f.do(t, http.MethodPost, "/api/fetch", remoteRequest{RepositoryPath: f.dir, CommandID: "fetch-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if id := decode[commandResponse](t, body).CommandID; id != "fetch-1" {
		t.Fatalf("commandId = %q", id)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var stdout []string
	var last backend.Event
	for {
		var ev backend.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.CommandID != "fetch-1" {
			t.Fatalf("foreign event: %+v", ev)
		}
		if ev.Kind == backend.EventStdout {
			stdout = append(stdout, ev.Data)
		}
		if ev.Terminal() {
			last = ev
			break
		}
	}
	if last.Kind != backend.EventCompleted || last.Success == nil || !*last.Success {
		t.Fatalf("terminal event = %+v", last)
	}
	if strings.Join(stdout, "|") != "line one|line two" {
		t.Fatalf("stdout events = %q", stdout)
	}

	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestEventsRejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v", resp)
	}
}

func TestWatchNotifiesChanges(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{WatchDelay: 20 * time.Millisecond})

	repo := t.TempDir()
	gitDir := filepath.Join(repo, ".git")
	if err := os.Mkdir(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	conn := f.dial(t, "/ws/watch?repositoryPath="+repo, nil)
	if err := os.WriteFile(filepath.Join(gitDir, "index"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var change watch.Change
	if err := conn.ReadJSON(&change); err != nil {
		t.Fatalf("read change: %v", err)
	}
	root, err := backend.CanonicalizePath(repo)
	if err != nil {
		t.Fatal(err)
	}
	if change.Root != root {
		t.Fatalf("Root = %q, want %q", change.Root, root)
	}
}

func TestWatchRejectsNonRepository(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	resp, body := f.do(t, http.MethodGet, "/ws/watch?repositoryPath="+t.TempDir(), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestCheckHost(t *testing.T) {
	t.Parallel()

	s := New(nil, nil, Options{AllowedHosts: []string{"DevBox.lan"}}, nil)
	for host, want := range map[string]bool{
		"127.0.0.1:7420":    true,
		"localhost:7420":    true,
		"[::1]:7420":        true,
		"127.0.0.1":         true,
		"devbox.lan:7420":   true,
		"evil.example":      false,
		"evil.example:7420": false,
		"10.0.0.5:7420":     false,
	} {
		r := httptest.NewRequest(http.MethodGet, "/api/git/info", nil)
		r.Host = host
		if got := s.checkHost(r); got != want {
			t.Errorf("checkHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestRefusesCrossSiteWrites(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{AllowedOrigins: []string{"http://localhost:5173"}})
	body := `{"args":["-c","core.fsmonitor=touch /tmp/owned","status"]}`

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{
			name:   "text_plain",
			header: http.Header{"Content-Type": {"text/plain;charset=UTF-8"}},
			want:   http.StatusUnsupportedMediaType,
		},
		{
			name:   "form",
			header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
			want:   http.StatusUnsupportedMediaType,
		},
		{
			name:   "no_content_type",
			header: http.Header{},
			want:   http.StatusUnsupportedMediaType,
		},
		{
			name:   "foreign_origin",
			header: http.Header{"Content-Type": {"application/json"}, "Origin": {"http://evil.example"}},
			want:   http.StatusForbidden,
		},
		{
			name:   "foreign_host",
			header: http.Header{"Content-Type": {"application/json"}, "Host": {"evil.example:7420"}},
			want:   http.StatusForbidden,
		},
		{
			name:   "rebound_host_same_origin",
			header: http.Header{"Content-Type": {"application/json"}, "Host": {"evil.example:7420"}, "Origin": {"http://evil.example:7420"}},
			want:   http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := f.send(t, http.MethodPost, "/api/run", body, tt.header)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.want, out)
			}
			if f.ran() {
				t.Fatal("git was invoked")
			}
		})
	}

	resp, out := f.send(t, http.MethodPost, "/api/run", `{"repositoryPath":"`+f.dir+`","args":["status"]}`,
		http.Header{"Content-Type": {"application/json; charset=utf-8"}, "Origin": {"http://localhost:5173"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allowed origin status = %d: %s", resp.StatusCode, out)
	}
	if !f.ran() {
		t.Fatal("git was not invoked for an allowed request")
	}
}
