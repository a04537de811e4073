package fixture

import (
	"encoding/base64"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/getmockd/mockcore/pkg/mock"
)

// Mode selects how Put stores responses.
type Mode string

const (
	// ModeOverwrite keeps one fixture per key; re-recording replaces it.
	ModeOverwrite Mode = "overwrite"
	// ModeCassette appends every recording and replays them in order.
	ModeCassette Mode = "cassette"
)

// Kind tells whether a hit came from a fixture file or a cassette.
type Kind int

const (
	KindFixture Kind = iota + 1
	KindCassette
)

// StoredResponse is the on-disk form of a response. Bodies that are not
// valid UTF-8 are base64 encoded.
type StoredResponse struct {
	Status       int         `json:"status"`
	Headers      http.Header `json:"headers,omitempty"`
	Body         string      `json:"body,omitempty"`
	BodyEncoding string      `json:"bodyEncoding,omitempty"`
}

// RequestSummary records what was asked, for humans reading fixture files.
type RequestSummary struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// Fixture is the content of one overwrite-mode file.
type Fixture struct {
	ID          string         `json:"id"`
	Route       string         `json:"route"`
	Fingerprint string         `json:"fingerprint"`
	Request     RequestSummary `json:"request"`
	Response    StoredResponse `json:"response"`
	RecordedAt  time.Time      `json:"recordedAt"`
}

// CassetteEntry is one line of a cassette file.
type CassetteEntry struct {
	Fingerprint string         `json:"fingerprint"`
	Response    StoredResponse `json:"response"`
	Timestamp   time.Time      `json:"timestamp"`
	Sequence    int64          `json:"sequence"`
	Request     RequestSummary `json:"request"`
}

// Hit is a successful Get.
type Hit struct {
	Response *mock.Response
	Kind     Kind
	// Sequence is the cassette sequence number; zero for fixtures.
	Sequence int64
}

// Entry summarises one stored response for listings.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Sequence    int64     `json:"sequence,omitempty"`
	Status      int       `json:"status"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	RecordedAt  time.Time `json:"recordedAt"`
}

func encodeResponse(resp *mock.Response) StoredResponse {
	out := StoredResponse{Status: resp.Status, Headers: resp.Header.Clone()}
	if utf8.Valid(resp.Body) {
		out.Body = string(resp.Body)
	} else {
		out.Body = base64.StdEncoding.EncodeToString(resp.Body)
		out.BodyEncoding = "base64"
	}
	return out
}

func (s StoredResponse) decode() (*mock.Response, error) {
	resp := mock.NewResponse(s.Status, nil)
	if s.Headers != nil {
		resp.Header = s.Headers.Clone()
	}
	switch s.BodyEncoding {
	case "":
		if s.Body != "" {
			resp.Body = []byte(s.Body)
		}
	case "base64":
		b, err := base64.StdEncoding.DecodeString(s.Body)
		if err != nil {
			return nil, err
		}
		resp.Body = b
	default:
		return nil, &unknownEncodingError{s.BodyEncoding}
	}
	return resp, nil
}

type unknownEncodingError struct{ enc string }

func (e *unknownEncodingError) Error() string {
	return "unknown body encoding " + e.enc
}

func summarize(req *mock.Request) RequestSummary {
	if req == nil {
		return RequestSummary{}
	}
	return RequestSummary{
		Method: req.Method,
		Path:   req.Path,
		Query:  CanonicalQuery(req.Query),
	}
}
