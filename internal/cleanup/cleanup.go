// Package cleanup implements the janitor jobs: opportunistic lock expiry in
// hooks, and pruning of stale agent records and old journal events.
package cleanup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/gren-lsp/agentlock/internal/log"
)

// Roll returns a uniform value in [0, 1).
type Roll func() float64

// DefaultRoll draws from math/rand.
func DefaultRoll() float64 {
	return rand.Float64()
}

// Opportunistic runs fn with probability p. roll supplies the random draw
// (nil uses DefaultRoll). It reports whether fn ran and returns fn's error.
func Opportunistic(ctx context.Context, p float64, roll Roll, fn func(context.Context) error) (bool, error) {
	if p <= 0 {
		return false, nil
	}
	if roll == nil {
		roll = DefaultRoll
	}
	if p < 1 && roll() >= p {
		return false, nil
	}
	return true, fn(ctx)
}

// AgentPruner removes idle agent records last active before a cutoff.
type AgentPruner interface {
	Prune(cutoff time.Time, dryRun bool) ([]string, error)
}

// PruneAgents removes idle agent records older than maxAgeDays.
// If dryRun is true nothing is removed; the function only returns the
// session ids that would be pruned.
func PruneAgents(store AgentPruner, maxAgeDays int, dryRun bool, now time.Time) ([]string, error) {
	if maxAgeDays < 0 {
		return nil, fmt.Errorf("max age must not be negative, got %d", maxAgeDays)
	}
	cutoff := now.AddDate(0, 0, -maxAgeDays)
	pruned, err := store.Prune(cutoff, dryRun)
	if err != nil {
		return nil, fmt.Errorf("pruning agent records: %w", err)
	}
	return pruned, nil
}

// TrimJournal keeps only the most recent keep lines of the JSONL journal at
// path and returns how many lines were dropped. A missing journal is not an
// error. If dryRun is true the file is left unchanged. The journal flock is
// held from the read to the rename, so appends from running hooks wait
// instead of being lost.
func TrimJournal(path string, keep int, dryRun bool) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	unlock, err := log.LockJournal(path)
	if err != nil {
		return 0, err
	}
	defer unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening journal: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		lines = append(lines, scanner.Text())
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return 0, fmt.Errorf("reading journal: %w", scanErr)
	}

	if len(lines) <= keep {
		return 0, nil
	}
	dropped := len(lines) - keep
	if dryRun {
		return dropped, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp journal: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	w := bufio.NewWriter(tmp)
	for _, line := range lines[dropped:] {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing journal: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return 0, fmt.Errorf("replacing journal: %w", err)
	}
	return dropped, nil
}
