package fixture

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/getmockd/mockcore/internal/id"
	"github.com/getmockd/mockcore/pkg/logging"
	"github.com/getmockd/mockcore/pkg/mock"
)

// maxLine bounds one cassette line; larger lines are treated as corrupt.
const maxLine = 16 << 20

// Config configures a Store.
type Config struct {
	// Dir is the root directory. It is created if missing.
	Dir string `json:"dir" yaml:"dir"`
	// Mode defaults to ModeOverwrite.
	Mode Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
	// Headers are the request headers included in fingerprints.
	Headers []string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Validate checks the mode.
func (c *Config) Validate() error {
	switch c.Mode {
	case "", ModeOverwrite, ModeCassette:
	default:
		return fmt.Errorf("unknown fixture mode %q", c.Mode)
	}
	if c.Dir == "" {
		return errors.New("fixtures dir is required")
	}
	return nil
}

// Store is a file-backed fixture store. Operations on different keys run
// concurrently; operations on the same key are serialised. A cassette Get
// advances a cursor and therefore counts as a write for locking.
type Store struct {
	dir     string
	mode    Mode
	headers []string
	log     *slog.Logger

	keys  *keyedLocks // route|fingerprint
	files *keyedLocks // cassette files: readers shared, appends exclusive

	cursorMu sync.Mutex
	cursors  map[string]int
	seqs     map[string]int64
}

// NewStore opens (creating if needed) a store rooted at cfg.Dir.
func NewStore(cfg Config, log *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, mock.Wrap(mock.KindConfigInvalid, "fixture", err)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeOverwrite
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create fixtures directory: %w", err)
	}
	return &Store{
		dir:     cfg.Dir,
		mode:    cfg.Mode,
		headers: append([]string(nil), cfg.Headers...),
		log:     logging.Component(log, "fixture"),
		keys:    newKeyedLocks(),
		files:   newKeyedLocks(),
		cursors: make(map[string]int),
		seqs:    make(map[string]int64),
	}, nil
}

// Mode returns the store's mode.
func (s *Store) Mode() Mode {
	return s.mode
}

// Fingerprint computes a request's fingerprint with the store's header subset.
func (s *Store) Fingerprint(req *mock.Request) string {
	return Fingerprint(req, s.headers)
}

func key(route, fp string) string {
	return route + "|" + fp
}

// Get returns the stored response for (route, fp). In cassette mode each call
// consumes the next entry; once all are consumed Get misses.
func (s *Store) Get(route, fp string) (*Hit, bool) {
	unlock := s.keys.Lock(key(route, fp))
	defer unlock()

	if s.mode == ModeCassette {
		return s.nextEntry(route, fp)
	}
	return s.readFixture(route, fp)
}

// Lookup fingerprints req and returns its stored response.
func (s *Store) Lookup(route string, req *mock.Request) (*mock.Response, bool) {
	hit, ok := s.Get(route, s.Fingerprint(req))
	if !ok {
		return nil, false
	}
	return hit.Response, true
}

// Put stores resp for (route, fp). It returns only after the data is durable.
func (s *Store) Put(route, fp string, req *mock.Request, resp *mock.Response) error {
	unlock := s.keys.Lock(key(route, fp))
	defer unlock()

	if s.mode == ModeCassette {
		return s.appendEntry(route, fp, req, resp)
	}
	return s.writeFixture(route, fp, req, resp)
}

func (s *Store) fixturePath(route, fp string) string {
	return filepath.Join(s.dir, routeSlug(route), fp+".json")
}

func (s *Store) cassettePath(route string) string {
	return filepath.Join(s.dir, routeSlug(route)+".jsonl")
}

func (s *Store) readFixture(route, fp string) (*Hit, bool) {
	p := s.fixturePath(route, fp)
	data, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.corrupt(route, fp, p, err)
		}
		return nil, false
	}
	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		s.corrupt(route, fp, p, err)
		return nil, false
	}
	if fx.Fingerprint != fp {
		s.corrupt(route, fp, p, fmt.Errorf("file holds fingerprint %q", fx.Fingerprint))
		return nil, false
	}
	resp, err := fx.Response.decode()
	if err != nil {
		s.corrupt(route, fp, p, err)
		return nil, false
	}
	resp.Source = mock.SourceFixture
	return &Hit{Response: resp, Kind: KindFixture}, true
}

func (s *Store) writeFixture(route, fp string, req *mock.Request, resp *mock.Response) error {
	fx := Fixture{
		ID:          id.ULID(),
		Route:       route,
		Fingerprint: fp,
		Request:     summarize(req),
		Response:    encodeResponse(resp),
		RecordedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	return writeFileAtomic(s.fixturePath(route, fp), data)
}

// writeFileAtomic writes to a temp file in the target directory, fsyncs it,
// renames it over the target and fsyncs the directory.
func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create fixture dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".fixture-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp fixture: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(fmt.Errorf("write fixture: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync fixture: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close fixture: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename fixture: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

// readCassette decodes every readable line of a route's cassette. Lines that
// do not decode are skipped with a warning, so a torn final line from a crash
// does not hide the entries before it.
func (s *Store) readCassette(route string) ([]CassetteEntry, error) {
	p := s.cassettePath(route)
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []CassetteEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e CassetteEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.corrupt(route, "", fmt.Sprintf("%s:%d", p, line), err)
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

func (s *Store) nextEntry(route, fp string) (*Hit, bool) {
	unlockFile := s.files.RLock(route)
	entries, err := s.readCassette(route)
	unlockFile()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.corrupt(route, fp, s.cassettePath(route), err)
	}

	var mine []CassetteEntry
	for _, e := range entries {
		if e.Fingerprint == fp {
			mine = append(mine, e)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].Sequence < mine[j].Sequence })

	k := key(route, fp)
	s.cursorMu.Lock()
	cursor := s.cursors[k]
	if cursor >= len(mine) {
		s.cursorMu.Unlock()
		return nil, false
	}
	s.cursors[k] = cursor + 1
	s.cursorMu.Unlock()

	e := mine[cursor]
	resp, err := e.Response.decode()
	if err != nil {
		s.corrupt(route, fp, s.cassettePath(route), err)
		return nil, false
	}
	resp.Source = mock.SourceCassette
	return &Hit{Response: resp, Kind: KindCassette, Sequence: e.Sequence}, true
}

func (s *Store) appendEntry(route, fp string, req *mock.Request, resp *mock.Response) error {
	unlockFile := s.files.Lock(route)
	defer unlockFile()

	seq, err := s.nextSequence(route)
	if err != nil {
		return err
	}
	line, err := json.Marshal(CassetteEntry{
		Fingerprint: fp,
		Response:    encodeResponse(resp),
		Timestamp:   time.Now().UTC(),
		Sequence:    seq,
		Request:     summarize(req),
	})
	if err != nil {
		return fmt.Errorf("encode cassette entry: %w", err)
	}
	line = append(line, '\n')

	p := s.cassettePath(route)
	_, statErr := os.Stat(p)
	if statErr == nil && !endsWithNewline(p) {
		// a previous append was torn; keep it on its own line
		line = append([]byte{'\n'}, line...)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open cassette: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append cassette: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync cassette: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close cassette: %w", err)
	}
	if errors.Is(statErr, fs.ErrNotExist) {
		if err := syncDir(s.dir); err != nil {
			return err
		}
	}

	s.cursorMu.Lock()
	s.seqs[route] = seq
	s.cursorMu.Unlock()
	return nil
}

func endsWithNewline(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return true
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return true
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return true
	}
	return last[0] == '\n'
}

// nextSequence returns one more than the highest sequence in the cassette.
// Must be called with the file lock held.
func (s *Store) nextSequence(route string) (int64, error) {
	s.cursorMu.Lock()
	last, known := s.seqs[route]
	s.cursorMu.Unlock()
	if known {
		return last + 1, nil
	}

	entries, err := s.readCassette(route)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("read cassette: %w", err)
	}
	for _, e := range entries {
		if e.Sequence > last {
			last = e.Sequence
		}
	}
	return last + 1, nil
}

// ResetCursors rewinds every cassette to its first entry.
func (s *Store) ResetCursors() {
	s.cursorMu.Lock()
	s.cursors = make(map[string]int)
	s.cursorMu.Unlock()
}

// Entries lists what is stored for route, oldest first. Unreadable fixture
// files are skipped.
func (s *Store) Entries(route string) ([]Entry, error) {
	if s.mode == ModeCassette {
		unlock := s.files.RLock(route)
		cassette, err := s.readCassette(route)
		unlock()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		out := make([]Entry, 0, len(cassette))
		for _, e := range cassette {
			out = append(out, Entry{
				Fingerprint: e.Fingerprint,
				Sequence:    e.Sequence,
				Status:      e.Response.Status,
				Method:      e.Request.Method,
				Path:        e.Request.Path,
				RecordedAt:  e.Timestamp,
			})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
		return out, nil
	}

	dir := filepath.Join(s.dir, routeSlug(route))
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue
		}
		var fx Fixture
		if json.Unmarshal(data, &fx) != nil {
			continue
		}
		out = append(out, Entry{
			Fingerprint: fx.Fingerprint,
			Status:      fx.Response.Status,
			Method:      fx.Request.Method,
			Path:        fx.Request.Path,
			RecordedAt:  fx.RecordedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (s *Store) corrupt(route, fp, where string, err error) {
	s.log.Warn("fixture unreadable, treating as miss",
		"kind", mock.KindFixtureCorrupt.String(),
		"route", route,
		"fingerprint", fp,
		"file", where,
		"error", err)
}
