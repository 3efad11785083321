package git

// Status is the parsed form of "git status --branch --porcelain=v1 -z".
type Status struct {
	Branch    string       `json:"branch,omitempty"`
	Upstream  string       `json:"upstream,omitempty"`
	Ahead     int          `json:"ahead"`
	Behind    int          `json:"behind"`
	Detached  bool         `json:"detached"`
	Staged    []FileChange `json:"staged"`
	Unstaged  []FileChange `json:"unstaged"`
	Conflicts []FileChange `json:"conflicts"`
	Untracked []string     `json:"untracked"`
	IsClean   bool         `json:"isClean"`
}

// FileChange is one tracked path with its index and worktree status codes.
// An empty status means the side is unchanged.
type FileChange struct {
	Path           string `json:"path"`
	OriginalPath   string `json:"originalPath,omitempty"`
	IndexStatus    string `json:"indexStatus,omitempty"`
	WorktreeStatus string `json:"worktreeStatus,omitempty"`
}

type LogEntry struct {
	Commit  string   `json:"commit"`
	Refs    []string `json:"refs"`
	Summary string   `json:"summary"`
}

type GraphEntry struct {
	Commit  string   `json:"commit"`
	Parents []string `json:"parents"`
	Author  string   `json:"author"`
	Date    string   `json:"date"`
	Subject string   `json:"subject"`
}

type Branches struct {
	Current string   `json:"current,omitempty"`
	Local   []string `json:"local"`
	Remote  []string `json:"remote"`
}

type StashEntry struct {
	Name         string `json:"name"`
	Hash         string `json:"hash"`
	RelativeTime string `json:"relativeTime"`
	Message      string `json:"message"`
}

type Remote struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

type CommitDetails struct {
	Commit  string       `json:"commit"`
	Author  string       `json:"author"`
	Date    string       `json:"date"`
	Message string       `json:"message"`
	Files   []CommitFile `json:"files"`
}

// CommitFile is one "--name-status" entry. Renames and copies carry the
// source in OriginalPath.
type CommitFile struct {
	Status       string `json:"status"`
	Path         string `json:"path"`
	OriginalPath string `json:"originalPath,omitempty"`
}

// RepositoryInfo describes where a repository lives on disk. HeadName and
// Detached are best effort and stay empty when HEAD cannot be read.
type RepositoryInfo struct {
	IsRepository bool   `json:"isRepository"`
	WorktreeRoot string `json:"worktreeRoot,omitempty"`
	GitDir       string `json:"gitDir,omitempty"`
	HeadName     string `json:"headName,omitempty"`
	Detached     bool   `json:"detached"`
}
