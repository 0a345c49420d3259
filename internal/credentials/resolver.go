package credentials

import (
	"errors"

	"github.com/sirupsen/logrus"

	"netaccess/internal/portal"
	pkgerrors "netaccess/pkg/errors"
)

// PasswordSource looks up a stored password.
type PasswordSource interface {
	Get(username string) (string, error)
}

// Resolver assembles a portal user from what is already known, then the
// keyring, then an interactive prompt.
type Resolver struct {
	Keyring PasswordSource
	// Prompter may be nil when no terminal is available.
	Prompter Prompter
	Logger   logrus.FieldLogger
}

// Resolve fills whichever of username and password is empty.
func (r *Resolver) Resolve(username, password string) (portal.User, error) {
	if username == "" {
		if r.Prompter == nil {
			return portal.User{}, pkgerrors.ErrNoUsername
		}
		name, err := r.Prompter.Username()
		if err != nil {
			return portal.User{}, err
		}
		if name == "" {
			return portal.User{}, pkgerrors.ErrNoUsername
		}
		username = name
	}

	if password == "" && r.Keyring != nil {
		stored, err := r.Keyring.Get(username)
		switch {
		case err == nil:
			password = stored
		case errors.Is(err, pkgerrors.ErrUserNotFound):
		default:
			r.logger().WithError(err).Warn("keyring lookup failed")
		}
	}

	if password == "" {
		if r.Prompter == nil {
			return portal.User{}, pkgerrors.ErrNoPassword
		}
		pwd, err := r.Prompter.Password(username)
		if err != nil {
			return portal.User{}, err
		}
		if pwd == "" {
			return portal.User{}, pkgerrors.ErrNoPassword
		}
		password = pwd
	}

	return portal.NewUser(username, password), nil
}

func (r *Resolver) logger() logrus.FieldLogger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}
