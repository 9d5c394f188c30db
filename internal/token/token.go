// Package token supplies bearer credentials for backend calls and push
// handshakes. Sources are consulted fresh on every attempt so a renewed
// credential is picked up without restarting the client.
package token

import (
	"context"
	"errors"
)

// ErrNoSession is returned when the session store holds no credential.
var ErrNoSession = errors.New("no session token available")

// Source returns the current bearer credential. Implementations must be
// safe for concurrent use.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed credential, used in development and tests.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoSession
	}
	return string(s), nil
}
