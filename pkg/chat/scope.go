package chat

import (
	"github.com/mahaj/chatcore/pkg/model"
	"github.com/mahaj/chatcore/pkg/session"
)

// scope pins an operation to the session that started it. Results are only
// written to the local stores while that session is still the active one.
type scope struct {
	user model.User
	gen  uint64
	sess *session.Session
}

func (c *Client) scope(op string) (scope, error) {
	user, gen, err := c.sess.RequireAt(op)
	if err != nil {
		return scope{}, err
	}
	return scope{user: user, gen: gen, sess: c.sess}, nil
}

// live reports whether the session has not been replaced or cleared since
// the scope was taken.
func (sc scope) live() bool {
	return sc.sess != nil && sc.sess.Generation() == sc.gen
}
