package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds reported before or while starting git. Use errors.Is to
// classify a returned error; the wrapped message carries the detail.
var (
	// ErrMissingExecutable means no usable git binary could be resolved.
	ErrMissingExecutable = errors.New("git executable not available")

	// ErrInvalidPath means an override or repository path was rejected.
	ErrInvalidPath = errors.New("invalid path provided")

	// ErrSpawn means the operating system failed to start the process.
	ErrSpawn = errors.New("failed to spawn git")

	// ErrInvalidArgument means a caller-supplied argument or credential
	// value failed sanitation.
	ErrInvalidArgument = errors.New("invalid argument")
)

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func invalidPath(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPath, fmt.Sprintf(format, args...))
}

// SanitizeArg rejects empty values and values containing a NUL byte. field
// names the argument in the returned error.
func SanitizeArg(value, field string) (string, error) {
	if value == "" {
		return "", invalidArgument("%s cannot be empty", field)
	}
	if strings.ContainsRune(value, 0) {
		return "", invalidArgument("%s may not contain null bytes", field)
	}
	return value, nil
}

func sanitizeArgs(args []string) error {
	for i, arg := range args {
		if _, err := SanitizeArg(arg, fmt.Sprintf("argument %d", i)); err != nil {
			return err
		}
	}
	return nil
}
