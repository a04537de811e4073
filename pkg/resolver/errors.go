package resolver

import (
	"context"
	"errors"
	"net/http"

	"github.com/getmockd/mockcore/pkg/mock"
)

// ErrorBody is the JSON shape of error responses.
type ErrorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// ErrorResponse maps an error from Resolve to the response an adapter should
// write.
func (r *Resolver) ErrorResponse(err error) *mock.Response {
	status := http.StatusInternalServerError
	body := ErrorBody{Error: mock.KindOf(err).Code(), Message: err.Error()}

	var e *mock.Error
	if errors.As(err, &e) {
		body.Details = e.Details
		if e.Message != "" {
			body.Message = e.Message
		}
	}

	switch mock.KindOf(err) {
	case mock.KindNoMatch:
		status = r.opts.NoMatchStatus
	case mock.KindValidation:
		status = http.StatusBadRequest
		if e != nil && e.Op == "validate.response" {
			status = http.StatusInternalServerError
		}
	case mock.KindUpstreamUnavailable:
		status = r.opts.UpstreamFaultStatus
	case mock.KindSessionProtocol:
		status = http.StatusBadRequest
	default:
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status, body.Error = http.StatusGatewayTimeout, "timeout"
		case errors.Is(err, context.Canceled):
			status, body.Error = http.StatusServiceUnavailable, "canceled"
		}
	}

	resp, jerr := mock.JSONResponse(status, body)
	if jerr != nil {
		resp = mock.NewResponse(status, []byte(body.Message))
	}
	resp.Source = mock.SourceError
	return resp
}
