package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var ErrNotFound = errors.New("match not found")

// Match is the audit record of one finished session. The tick history itself
// lives in the replay store.
type Match struct {
	SessionID    string    `json:"sessionId"`
	RoomCode     string    `json:"roomCode"`
	Participants []string  `json:"participants"`
	TickCount    int       `json:"tickCount"`
	EndReason    string    `json:"endReason"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
}

const insertMatch = `
	INSERT INTO matches (session_id, room_code, participants, tick_count, end_reason, started_at, ended_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (session_id) DO NOTHING
`

func (d *DB) ArchiveMatch(m Match) error {
	_, err := d.conn.Exec(insertMatch, m.SessionID, m.RoomCode, pq.Array(m.Participants), m.TickCount, m.EndReason, m.StartedAt, m.EndedAt)
	if err != nil {
		return fmt.Errorf("archiving match: %w", err)
	}
	return nil
}

func (d *DB) BatchArchiveMatches(matches []Match) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertMatch)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range matches {
		if _, err := stmt.Exec(m.SessionID, m.RoomCode, pq.Array(m.Participants), m.TickCount, m.EndReason, m.StartedAt, m.EndedAt); err != nil {
			return fmt.Errorf("archiving match %s in batch: %w", m.SessionID, err)
		}
	}

	return tx.Commit()
}

const selectMatch = `
	SELECT session_id, room_code, participants, tick_count, end_reason, started_at, ended_at
	FROM matches
`

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(row scanner) (Match, error) {
	var m Match
	err := row.Scan(&m.SessionID, &m.RoomCode, pq.Array(&m.Participants), &m.TickCount, &m.EndReason, &m.StartedAt, &m.EndedAt)
	return m, err
}

func (d *DB) GetMatch(sessionID string) (*Match, error) {
	m, err := scanMatch(d.conn.QueryRow(selectMatch+` WHERE session_id = $1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting match: %w", err)
	}
	return &m, nil
}

func (d *DB) RecentMatches(limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(selectMatch+` ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
