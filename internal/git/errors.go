package git

import "github.com/thiagokokada/gitcore/internal/git/backend"

// CommandError reports a git invocation that exited unsuccessfully for an
// operation whose caller requires success.
type CommandError struct {
	Op      string
	Outcome backend.Outcome
}

func (e *CommandError) Error() string {
	if e.Outcome.Stderr != "" {
		return e.Outcome.Stderr
	}
	return "failed to " + e.Op
}

func commandError(op string, out backend.Outcome) error {
	if out.Success {
		return nil
	}
	return &CommandError{Op: op, Outcome: out}
}
