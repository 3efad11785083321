package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// Environment variables read by the askpass helper. The helper script only
// references them; secret values never land in its content.
const (
	EnvAskpass          = "GIT_ASKPASS"
	EnvAskpassUsername  = "GITCORE_ASKPASS_USERNAME"
	EnvAskpassPassword  = "GITCORE_ASKPASS_PASSWORD"
	EnvTerminalPrompt   = "GIT_TERMINAL_PROMPT"
	EnvSSHCommand       = "GIT_SSH_COMMAND"
	defaultTokenUser    = "git"
	defaultAskpassAlias = "gitcore-askpass-"
)

type AuthKind uint8

const (
	AuthToken AuthKind = iota + 1
	AuthUserPassword
	AuthSSHCommand
)

func (k AuthKind) String() string {
	switch k {
	case AuthToken:
		return "token"
	case AuthUserPassword:
		return "user_password"
	case AuthSSHCommand:
		return "ssh_command"
	default:
		return fmt.Sprintf("AuthKind(%d)", uint8(k))
	}
}

// Auth is one of three credential variants. Build it with TokenAuth,
// UserPasswordAuth or SSHCommandAuth.
type Auth struct {
	kind     AuthKind
	username string
	secret   string
	command  string
}

// TokenAuth authenticates over HTTPS with a token. An empty username
// defaults to "git".
func TokenAuth(token, username string) Auth {
	if username == "" {
		username = defaultTokenUser
	}
	return Auth{kind: AuthToken, username: username, secret: token}
}

func UserPasswordAuth(username, password string) Auth {
	return Auth{kind: AuthUserPassword, username: username, secret: password}
}

// SSHCommandAuth overrides the ssh command git uses for transport.
func SSHCommandAuth(command string) Auth {
	return Auth{kind: AuthSSHCommand, command: command}
}

func (a Auth) Kind() AuthKind { return a.kind }

func (a Auth) Username() string { return a.username }

// String never includes the secret.
func (a Auth) String() string {
	switch a.kind {
	case AuthSSHCommand:
		return "ssh_command"
	default:
		return fmt.Sprintf("%s(%s)", a.kind, a.username)
	}
}

// Credentials is the environment and ephemeral files prepared for a single
// git invocation.
type Credentials struct {
	Env   map[string]string
	Files []string

	once       sync.Once
	releaseErr error
}

// Release removes every ephemeral file. Only the first call has an effect;
// files already gone are ignored.
func (c *Credentials) Release() error {
	if c == nil {
		return nil
	}
	c.once.Do(func() {
		var errs []error
		for _, path := range c.Files {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		c.releaseErr = errors.Join(errs...)
	})
	return c.releaseErr
}

// Environ returns the credential environment as KEY=VALUE pairs.
func (c *Credentials) Environ() []string {
	if c == nil {
		return nil
	}
	env := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// Preparer turns an Auth into Credentials for a child process.
type Preparer interface {
	Prepare(auth Auth) (*Credentials, error)
}

// AskpassPreparer writes a GIT_ASKPASS helper into Dir (os.TempDir when
// empty) for token and user/password credentials.
type AskpassPreparer struct {
	Dir    string
	Prefix string
}

func (p AskpassPreparer) Prepare(auth Auth) (*Credentials, error) {
	switch auth.kind {
	case AuthToken, AuthUserPassword:
		return p.prepareAskpass(auth.username, auth.secret)
	case AuthSSHCommand:
		if strings.TrimSpace(auth.command) == "" {
			return nil, invalidArgument("SSH command override must not be empty")
		}
		return &Credentials{Env: map[string]string{EnvSSHCommand: auth.command}}, nil
	default:
		return nil, invalidArgument("unsupported credential kind %s", auth.kind)
	}
}

func (p AskpassPreparer) prepareAskpass(username, secret string) (*Credentials, error) {
	if strings.ContainsRune(username, 0) || strings.ContainsRune(secret, 0) {
		return nil, invalidArgument("credential values may not contain null bytes")
	}
	prefix := p.Prefix
	if prefix == "" {
		prefix = defaultAskpassAlias
	}
	f, err := os.CreateTemp(p.Dir, prefix+"*"+askpassSuffix)
	if err != nil {
		return nil, fmt.Errorf("create askpass helper: %w", err)
	}
	path := f.Name()
	_, werr := f.WriteString(askpassScript)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write askpass helper: %w", err)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("chmod askpass helper: %w", err)
	}
	return &Credentials{
		Env: map[string]string{
			EnvAskpass:         path,
			EnvAskpassUsername: username,
			EnvAskpassPassword: secret,
			EnvTerminalPrompt:  "0",
		},
		Files: []string{path},
	}, nil
}
