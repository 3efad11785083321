package server

import (
	"fmt"
	"net/http"

	"github.com/thiagokokada/gitcore/internal/git"
	"github.com/thiagokokada/gitcore/internal/git/backend"
)

type repositoryRequest struct {
	RepositoryPath string `json:"repositoryPath"`
}

type pathsRequest struct {
	RepositoryPath string   `json:"repositoryPath"`
	Paths          []string `json:"paths"`
}

type commitRequest struct {
	RepositoryPath string `json:"repositoryPath"`
	Message        string `json:"message"`
}

type switchRequest struct {
	RepositoryPath string `json:"repositoryPath"`
	Branch         string `json:"branch"`
	Create         bool   `json:"create"`
	Track          bool   `json:"track"`
}

type deleteBranchRequest struct {
	RepositoryPath string `json:"repositoryPath"`
	Branch         string `json:"branch"`
	Force          bool   `json:"force"`
}

type checkoutRequest struct {
	RepositoryPath string `json:"repositoryPath"`
	Target         string `json:"target"`
}

type stashPushRequest struct {
	RepositoryPath   string `json:"repositoryPath"`
	Message          string `json:"message"`
	IncludeUntracked bool   `json:"includeUntracked"`
}

type stashApplyRequest struct {
	RepositoryPath string `json:"repositoryPath"`
	Name           string `json:"name"`
	Drop           bool   `json:"drop"`
}

type runRequest struct {
	RepositoryPath string   `json:"repositoryPath"`
	Args           []string `json:"args"`
}

type remoteRequest struct {
	RepositoryPath string       `json:"repositoryPath"`
	Remote         string       `json:"remote"`
	Branch         string       `json:"branch"`
	Auth           *authRequest `json:"auth"`
	CommandID      string       `json:"commandId"`
}

// authRequest is the wire form of backend.Auth.
type authRequest struct {
	Kind     string `json:"kind"`
	Token    string `json:"token"`
	Username string `json:"username"`
	Password string `json:"password"`
	Command  string `json:"command"`
}

func (a *authRequest) toAuth() (*backend.Auth, error) {
	if a == nil {
		return nil, nil
	}
	var auth backend.Auth
	switch a.Kind {
	case backend.AuthToken.String():
		auth = backend.TokenAuth(a.Token, a.Username)
	case backend.AuthUserPassword.String():
		auth = backend.UserPasswordAuth(a.Username, a.Password)
	case backend.AuthSSHCommand.String():
		auth = backend.SSHCommandAuth(a.Command)
	default:
		return nil, fmt.Errorf("%w: unknown auth kind %q", backend.ErrInvalidArgument, a.Kind)
	}
	return &auth, nil
}

type pathRequest struct {
	Path *string `json:"path"`
}

type nameResponse struct {
	Name string `json:"name"`
}

type commandResponse struct {
	CommandID string `json:"commandId"`
}

func (s *Server) handlePathInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.PathInfo())
}

// handleSetPath sets the git override; a null or empty path clears it.
func (s *Server) handleSetPath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Path == nil {
		writeJSON(w, http.StatusOK, s.svc.ClearExecutable())
		return
	}
	info, err := s.svc.SetExecutable(*req.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.GitVersion(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req repositoryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.svc.DetectRepository(req.RepositoryPath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// query adapts a read-only service call keyed by ?repositoryPath=.
func query[T any](s *Server, w http.ResponseWriter, r *http.Request, fn func(repo string) (T, error)) {
	v, err := fn(r.URL.Query().Get("repositoryPath"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	query(s, w, r, func(repo string) (git.Status, error) { return s.svc.Status(r.Context(), repo) })
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	query(s, w, r, func(repo string) ([]git.LogEntry, error) { return s.svc.Log(r.Context(), repo) })
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	query(s, w, r, func(repo string) ([]git.GraphEntry, error) { return s.svc.Graph(r.Context(), repo) })
}

func (s *Server) handleBranches(w http.ResponseWriter, r *http.Request) {
	query(s, w, r, func(repo string) (git.Branches, error) { return s.svc.Branches(r.Context(), repo) })
}

func (s *Server) handleStashList(w http.ResponseWriter, r *http.Request) {
	query(s, w, r, func(repo string) ([]git.StashEntry, error) { return s.svc.StashList(r.Context(), repo) })
}

func (s *Server) handleRemotes(w http.ResponseWriter, r *http.Request) {
	query(s, w, r, func(repo string) ([]git.Remote, error) { return s.svc.Remotes(r.Context(), repo) })
}

func (s *Server) handleCommitDetails(w http.ResponseWriter, r *http.Request) {
	commit := r.URL.Query().Get("commit")
	query(s, w, r, func(repo string) (git.CommitDetails, error) {
		return s.svc.CommitDetails(r.Context(), repo, commit)
	})
}

// mutate decodes a request body of type Req and writes the result of fn.
func mutate[Req, Resp any](s *Server, w http.ResponseWriter, r *http.Request, fn func(Req) (Resp, error)) {
	var req Req
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := fn(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	mutate(s, w, r, func(req pathsRequest) (backend.Outcome, error) {
		return s.svc.Stage(r.Context(), req.RepositoryPath, req.Paths)
	})
}

func (s *Server) handleUnstage(w http.ResponseWriter, r *http.Request) {
	mutate(s, w, r, func(req pathsRequest) (backend.Outcome, error) {
		return s.svc.Unstage(r.Context(), req.RepositoryPath, req.Paths)
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	mutate(s, w, r, func(req commitRequest) (backend.Outcome, error) {
		return s.svc.Commit(r.Context(), req.RepositoryPath, req.Message)
	})
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	mutate(s, w, r, func(req switchRequest) (nameResponse, error) {
		name, err := s.svc.SwitchBranch(r.Context(), req.RepositoryPath, req.Branch,
			git.SwitchOptions{Create: req.Create, Track: req.Track})
		return nameResponse{Name: name}, err
	})
}

func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	mutate(s, w, r, func(req deleteBranchRequest) (nameResponse, error) {
		name, err := s.svc.DeleteBranch(r.Context(), req.RepositoryPath, req.Branch, req.Force)
		return nameResponse{Name: name}, err
	})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	mutate(s, w, r, func(req checkoutRequest) (nameResponse, error) {
		name, err := s.svc.Checkout(r.Context(), req.RepositoryPath, req.Target)
		return nameResponse{Name: name}, err
	})
}

func (s *Server) handleStashPush(w http.ResponseWriter, r *http.Request) {
	mutate(s, w, r, func(req stashPushRequest) (backend.Outcome, error) {
		return s.svc.StashPush(r.Context(), req.RepositoryPath,
			git.StashPushOptions{Message: req.Message, IncludeUntracked: req.IncludeUntracked})
	})
}

func (s *Server) handleStashApply(w http.ResponseWriter, r *http.Request) {
	mutate(s, w, r, func(req stashApplyRequest) (backend.Outcome, error) {
		return s.svc.StashApply(r.Context(), req.RepositoryPath,
			git.StashApplyOptions{Name: req.Name, Drop: req.Drop})
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	mutate(s, w, r, func(req runRequest) (backend.Outcome, error) {
		return s.svc.Run(r.Context(), req.RepositoryPath, req.Args)
	})
}

// handleRemote starts a streamed network operation. Clients that need
// every event subscribe on /ws/events with their own commandId first.
func (s *Server) handleRemote(start func(git.RemoteRequest) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mutate(s, w, r, func(req remoteRequest) (commandResponse, error) {
			auth, err := req.Auth.toAuth()
			if err != nil {
				return commandResponse{}, err
			}
			id, err := start(git.RemoteRequest{
				RepositoryPath: req.RepositoryPath,
				Remote:         req.Remote,
				Branch:         req.Branch,
				Auth:           auth,
				CommandID:      req.CommandID,
			})
			return commandResponse{CommandID: id}, err
		})
	}
}
