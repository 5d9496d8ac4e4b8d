// Package history implements the mining journal: a small SQLite database
// recording one row per process run, one per claimed drop and one per
// drop with watched minutes. Claim and minute rows are write-behind:
// records accumulate in memory and a FlushWorker batches them to disk.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/internal/logx"
)

// Claim is one claimed-drop row.
type Claim struct {
	DropID       string
	RunID        string
	CampaignID   string
	CampaignName string
	GameName     string
	DropName     string
	Benefits     []string
	ClaimedAt    time.Time
}

type watchRow struct {
	minutes   int
	updatedNs int64
}

// Store owns history.db. Record methods only stage rows; Flush (usually
// driven by a FlushWorker) writes them in one transaction.
type Store struct {
	db *sql.DB

	mu            sync.Mutex
	runID         string
	pendingClaims map[string]Claim
	pendingWatch  map[string]watchRow
}

// Open creates dir if needed, opens history.db and applies migrations.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir %s: %w", dir, err)
	}
	db, err := openDB(filepath.Join(dir, "history.db"))
	if err != nil {
		return nil, err
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:            db,
		pendingClaims: make(map[string]Claim),
		pendingWatch:  make(map[string]watchRow),
	}, nil
}

// BeginRun inserts the run row and tags every subsequent record with runID.
// Unlike claims this is written immediately: the row must exist before any
// claim references it.
func (s *Store) BeginRun(runID, version string) error {
	if _, err := s.db.Exec(
		`INSERT INTO runs (id, started_at, version) VALUES (?, ?, ?)`,
		runID, time.Now().UnixNano(), version,
	); err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	s.mu.Lock()
	s.runID = runID
	s.mu.Unlock()
	return nil
}

// RecordClaim stages a claimed-drop row. The run id and, when unset, the
// claim time are filled in here.
func (s *Store) RecordClaim(c Claim) {
	if c.ClaimedAt.IsZero() {
		c.ClaimedAt = time.Now()
	}
	s.mu.Lock()
	c.RunID = s.runID
	s.pendingClaims[c.DropID] = c
	s.mu.Unlock()
}

// RecordMinutes stages the current watched-minute total for a drop. Later
// records for the same drop replace earlier unflushed ones.
func (s *Store) RecordMinutes(dropID string, minutes int) {
	s.mu.Lock()
	s.pendingWatch[dropID] = watchRow{minutes: minutes, updatedNs: time.Now().UnixNano()}
	s.mu.Unlock()
}

// Pending returns the number of staged rows.
func (s *Store) Pending() int {
	s.mu.Lock()
	n := len(s.pendingClaims) + len(s.pendingWatch)
	s.mu.Unlock()
	return n
}

// Flush drains the staged rows and writes them in a single transaction.
// On failure the drained rows are merged back, keeping any newer marks.
func (s *Store) Flush() error {
	s.mu.Lock()
	runID := s.runID
	claims := s.pendingClaims
	watch := s.pendingWatch
	s.pendingClaims = make(map[string]Claim)
	s.pendingWatch = make(map[string]watchRow)
	s.mu.Unlock()

	if len(claims) == 0 && len(watch) == 0 {
		return nil
	}
	if err := s.flushTx(runID, claims, watch); err != nil {
		s.remerge(claims, watch)
		return fmt.Errorf("flush: %w", err)
	}
	logx.Debugf("history", "flushed %d claim rows, %d watch rows", len(claims), len(watch))
	return nil
}

func (s *Store) remerge(claims map[string]Claim, watch map[string]watchRow) {
	s.mu.Lock()
	for k, v := range claims {
		if _, exists := s.pendingClaims[k]; !exists {
			s.pendingClaims[k] = v
		}
	}
	for k, v := range watch {
		if _, exists := s.pendingWatch[k]; !exists {
			s.pendingWatch[k] = v
		}
	}
	s.mu.Unlock()
}

const (
	upsertClaimSQL = `INSERT INTO claims (drop_id, run_id, campaign_id, campaign_name, game_name, drop_name, benefits, claimed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(drop_id) DO UPDATE SET
			run_id        = excluded.run_id,
			campaign_id   = excluded.campaign_id,
			campaign_name = excluded.campaign_name,
			game_name     = excluded.game_name,
			drop_name     = excluded.drop_name,
			benefits      = excluded.benefits,
			claimed_at    = excluded.claimed_at`

	upsertWatchSQL = `INSERT INTO watch_minutes (drop_id, run_id, minutes, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(drop_id) DO UPDATE SET
			run_id     = excluded.run_id,
			minutes    = excluded.minutes,
			updated_at = excluded.updated_at`
)

func (s *Store) flushTx(runID string, claims map[string]Claim, watch map[string]watchRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if len(claims) > 0 {
		stmt, err := tx.Prepare(upsertClaimSQL)
		if err != nil {
			return fmt.Errorf("prepare claims: %w", err)
		}
		for _, c := range claims {
			benefits, err := encodeStringSliceJSON(c.Benefits)
			if err != nil {
				stmt.Close()
				return fmt.Errorf("encode benefits for %s: %w", c.DropID, err)
			}
			if _, err := stmt.Exec(
				c.DropID, c.RunID, c.CampaignID, c.CampaignName,
				c.GameName, c.DropName, benefits, c.ClaimedAt.UnixNano(),
			); err != nil {
				stmt.Close()
				return fmt.Errorf("upsert claim %s: %w", c.DropID, err)
			}
		}
		stmt.Close()
	}

	if len(watch) > 0 {
		stmt, err := tx.Prepare(upsertWatchSQL)
		if err != nil {
			return fmt.Errorf("prepare watch_minutes: %w", err)
		}
		for dropID, w := range watch {
			if _, err := stmt.Exec(dropID, runID, w.minutes, w.updatedNs); err != nil {
				stmt.Close()
				return fmt.Errorf("upsert watch_minutes %s: %w", dropID, err)
			}
		}
		stmt.Close()
	}

	return tx.Commit()
}

// Claims reads journal rows, newest first. limit <= 0 means all rows.
func (s *Store) Claims(limit int) ([]Claim, error) {
	query := `SELECT drop_id, run_id, campaign_id, campaign_name, game_name, drop_name, benefits, claimed_at
		FROM claims ORDER BY claimed_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Claim
	for rows.Next() {
		var c Claim
		var benefitsJSON string
		var claimedNs int64
		if err := rows.Scan(
			&c.DropID, &c.RunID, &c.CampaignID, &c.CampaignName,
			&c.GameName, &c.DropName, &benefitsJSON, &claimedNs,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(benefitsJSON), &c.Benefits); err != nil {
			return nil, fmt.Errorf("decode benefits for %s: %w", c.DropID, err)
		}
		c.ClaimedAt = time.Unix(0, claimedNs)
		result = append(result, c)
	}
	return result, rows.Err()
}

// Minutes reads the recorded watch total for a drop. The second return is
// false when no row exists.
func (s *Store) Minutes(dropID string) (int, bool, error) {
	var minutes int
	err := s.db.QueryRow(`SELECT minutes FROM watch_minutes WHERE drop_id = ?`, dropID).Scan(&minutes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return minutes, true, nil
}

// Close closes the database. Callers flush first (FlushWorker.Stop does).
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeStringSliceJSON(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
