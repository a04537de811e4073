package template

import (
	"encoding/json"
	mathrand "math/rand/v2"

	"github.com/getmockd/mockcore/pkg/mock"
)

// Context is the data available to one rendering.
type Context struct {
	Request *mock.Request
	Message []byte
	Vars    map[string]string
	Rand    *mathrand.Rand

	msgDecoded bool
	msgData    any
}

// RequestContext returns a Context over req.
func RequestContext(req *mock.Request) *Context {
	return &Context{Request: req}
}

// MessageContext returns a Context over an inbound WebSocket message and the
// session's variables.
func MessageContext(msg []byte, vars map[string]string) *Context {
	return &Context{Message: msg, Vars: vars}
}

func (c *Context) message() (any, bool) {
	if !c.msgDecoded {
		c.msgDecoded = true
		if len(c.Message) > 0 && json.Unmarshal(c.Message, &c.msgData) != nil {
			c.msgData = nil
		}
	}
	return c.msgData, c.msgData != nil
}
