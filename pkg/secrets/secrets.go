// Package secrets loads flat KEY=VALUE secret files for injection into a
// machine's environment at start time. Secrets are never persisted in the
// store and never logged.
package secrets

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// sharedFileName holds secrets shared across every app.
	sharedFileName = "secrets.default"

	// FilePerm is the permission mode secret files are written with.
	FilePerm = 0o600
)

// Store manages flat-file secrets rooted at a data directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory must already exist.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) sharedPath() string {
	return filepath.Join(s.dir, sharedFileName)
}

func (s *Store) appPath(appName string) string {
	return filepath.Join(s.dir, "secrets."+appName)
}

// Load returns the effective secret set for appName: shared secrets merged
// with app-specific secrets, app-specific keys taking precedence.
func (s *Store) Load(appName string) (map[string]string, error) {
	shared, err := readFile(s.sharedPath())
	if err != nil {
		return nil, fmt.Errorf("read shared secrets: %w", err)
	}

	app, err := readFile(s.appPath(appName))
	if err != nil {
		return nil, fmt.Errorf("read app secrets: %w", err)
	}

	return Merge(shared, app), nil
}

// Set writes key=value into the app-specific secret file, replacing any
// existing assignment for key.
func (s *Store) Set(appName, key, value string) error {
	return s.update(s.appPath(appName), func(kv map[string]string) {
		kv[key] = value
	})
}

// Remove deletes key from the app-specific secret file, if present.
func (s *Store) Remove(appName, key string) error {
	return s.update(s.appPath(appName), func(kv map[string]string) {
		delete(kv, key)
	})
}

// List returns the keys set for appName, without their values.
func (s *Store) List(appName string) ([]string, error) {
	kv, err := readFile(s.appPath(appName))
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Store) update(path string, mutate func(map[string]string)) error {
	kv, err := readFile(path)
	if err != nil {
		return err
	}

	mutate(kv)

	return writeFile(path, kv)
}

// Merge combines shared and app-specific secret sets: app-specific keys
// override shared keys. Pure function, no filesystem interaction.
func Merge(shared, app map[string]string) map[string]string {
	out := make(map[string]string, len(shared)+len(app))
	for k, v := range shared {
		out[k] = v
	}
	for k, v := range app {
		out[k] = v
	}
	return out
}

// Parse parses KEY=VALUE lines, skipping blank lines and lines starting
// with '#'. Within one file, the last assignment for a key wins. Pure
// function, no filesystem interaction.
func Parse(content string) map[string]string {
	kv := make(map[string]string)

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return kv
}

// Format renders a secret set back into KEY=VALUE lines, sorted by key for
// deterministic output.
func Format(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kv[k])
		b.WriteByte('\n')
	}
	return b.String()
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(string(data)), nil
}

func writeFile(path string, kv map[string]string) error {
	return os.WriteFile(path, []byte(Format(kv)), FilePerm)
}
