package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound     = errors.New("configuration file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("configuration file is empty")
)

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf detects the format from a file extension (.yaml and .yml are
// YAML, anything else JSON).
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnvVars expands ${NAME} and ${NAME:-default} references.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if val := os.Getenv(sub[1]); val != "" {
			return val
		}
		return sub[2]
	})
}

// Load reads the document at path and every file its include globs match.
// The result is not validated.
func Load(path string) (*Document, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	doc := &Document{}
	if err := decode(data, FormatOf(path), doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.Path = path
	doc.Files = []string{path}

	includes, err := expandIncludes(filepath.Dir(path), doc.Include)
	if err != nil {
		return nil, err
	}
	for _, inc := range includes {
		if sameFile(inc, path) {
			continue
		}
		frag, err := loadFragment(inc)
		if err != nil {
			return nil, err
		}
		doc.merge(frag)
		doc.Files = append(doc.Files, inc)
	}
	return doc, nil
}

// Parse decodes a document held in memory. Include globs are resolved
// relative to the working directory.
func Parse(data []byte, format Format) (*Document, error) {
	doc := &Document{}
	if err := decode(data, format, doc); err != nil {
		return nil, err
	}
	includes, err := expandIncludes(".", doc.Include)
	if err != nil {
		return nil, err
	}
	for _, inc := range includes {
		frag, err := loadFragment(inc)
		if err != nil {
			return nil, err
		}
		doc.merge(frag)
		doc.Files = append(doc.Files, inc)
	}
	return doc, nil
}

func loadFragment(path string) (*Fragment, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	frag := &Fragment{}
	if err := decode(data, FormatOf(path), frag); err != nil {
		return nil, fmt.Errorf("include %s: %w", path, err)
	}
	return frag, nil
}

// readFile reads path, mapping common failures to the package sentinels.
func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return data, nil
}

// decode expands environment references and decodes strictly: unknown keys
// are errors.
func decode(data []byte, format Format, out any) error {
	expanded := []byte(ExpandEnvVars(string(data)))
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
	default:
		if !json.Valid(expanded) {
			return ErrInvalidJSON
		}
		dec := json.NewDecoder(bytes.NewReader(expanded))
		dec.DisallowUnknownFields()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	}
	return nil
}

// expandIncludes resolves include globs relative to baseDir. Matches are
// sorted per pattern and de-duplicated across patterns.
func expandIncludes(baseDir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		resolved := pattern
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(baseDir, pattern)
		}
		matches, err := doublestar.FilepathGlob(resolved)
		if err != nil {
			return nil, fmt.Errorf("include %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if seen[m] || isDir(m) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	return files, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
