package resilience

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/renameio/v2"
)

// snapshot is the persisted form of breaker state, written on shutdown and
// breaker transitions, restored on start so a crash does not reset a known-bad
// service to closed.
type snapshot struct {
	SavedAt  time.Time                `json:"saved_at"`
	Breakers map[string]breakerRecord `json:"breakers"`
}

type breakerRecord struct {
	State     string    `json:"state"`
	OpenUntil time.Time `json:"open_until,omitempty"`
}

// SaveSnapshot atomically writes breaker states to path.
func (c *Caller) SaveSnapshot(path string) error {
	c.mu.Lock()
	snap := snapshot{
		SavedAt:  time.Now(),
		Breakers: make(map[string]breakerRecord, len(c.breakers)),
	}
	for key, cb := range c.breakers {
		rec := breakerRecord{State: cb.State().String()}
		if rec.State == "open" {
			rec.OpenUntil = time.Now().Add(c.cfg.BreakerCooldown)
		}
		snap.Breakers[key] = rec
	}
	for key, until := range c.forced {
		if time.Now().Before(until) {
			snap.Breakers[key] = breakerRecord{State: "open", OpenUntil: until}
		}
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding breaker snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing breaker snapshot: %w", err)
	}
	return nil
}

// RestoreSnapshot loads a previously saved snapshot. Breakers recorded open
// stay rejected until their recorded cool-down expires. A missing file is
// not an error.
func (c *Caller) RestoreSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading breaker snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding breaker snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	restored := 0
	for key, rec := range snap.Breakers {
		if rec.State == "open" && time.Now().Before(rec.OpenUntil) {
			c.forced[key] = rec.OpenUntil
			restored++
		}
	}
	if restored > 0 {
		slog.Info("Restored open circuit breakers", "count", restored, "path", path)
	}
	return nil
}
