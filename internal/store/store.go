// Package store provides crash-safe persistence for run artifacts using
// JSON files.
//
// Backtest results and trade logs are written as separate files under a
// data directory. Writes use atomic file replacement (write to .tmp, then
// rename) so a crash mid-save never leaves a partial file. The values are
// self-describing JSON; no binary format stability is promised.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/heheshang/ea-okx/pkg/types"
)

// Store persists run artifacts to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SaveResult atomically persists a backtest result (or any other
// self-describing report) under the given run name.
func (s *Store) SaveResult(name string, result any) error {
	return s.writeJSON("result_"+sanitize(name)+".json", result)
}

// LoadResult reads a persisted result into out. Returns os.ErrNotExist
// when no result was saved under the name.
func (s *Store) LoadResult(name string, out any) error {
	return s.readJSON("result_"+sanitize(name)+".json", out)
}

// SaveTrades atomically persists a trade log under the given run name.
func (s *Store) SaveTrades(name string, trades []types.Trade) error {
	return s.writeJSON("trades_"+sanitize(name)+".json", trades)
}

// LoadTrades reads a persisted trade log. Returns nil, nil when no log
// exists for the name.
func (s *Store) LoadTrades(name string) ([]types.Trade, error) {
	var trades []types.Trade
	if err := s.readJSON("trades_"+sanitize(name)+".json", &trades); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return trades, nil
}

// ListResults returns the saved run names, sorted.
func (s *Store) ListResults() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "result_") && strings.HasSuffix(name, ".json") {
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(name, "result_"), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// writeJSON marshals and writes via tmp+rename (crash-safe).
func (s *Store) writeJSON(filename string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filename, err)
	}

	path := filepath.Join(s.dir, filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) readJSON(filename string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, filename))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", filename, err)
	}
	return nil
}

// sanitize keeps run names filesystem-safe.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
