package websocket

import (
	"errors"

	"github.com/getmockd/mockcore/pkg/mock"
)

var (
	// ErrEndpointNotFound indicates no endpoint is configured for a path.
	ErrEndpointNotFound = errors.New("websocket: endpoint not found")
	// errPeerClosed ends the read loop when the client closes cleanly.
	errPeerClosed = errors.New("websocket: peer closed")
)

func configInvalid(err error) error {
	return mock.Wrap(mock.KindConfigInvalid, "websocket", err)
}
