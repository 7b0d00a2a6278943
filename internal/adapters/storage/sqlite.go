package storage

// sqlite.go: journal del ledger e histórico de rondas.
//
// Estrategia:
//   - `journal`: UNA fila por llamada aceptada, en orden de seq. Es la fuente
//     de verdad: al arrancar se reaplica entera sobre el estado génesis.
//   - `events`: los eventos de cada llamada, para consultas históricas.
//   - `rounds`: resumen por ronda (inicio, ganador, retenido), derivado de los
//     eventos en la misma transacción SQL que la entrada del journal.
//   - Nada se borra: el journal es necesario para reconstruir el estado.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

const schema = `
-- Llamadas aceptadas por el ledger, en orden
CREATE TABLE IF NOT EXISTS journal (
    seq        INTEGER PRIMARY KEY,
    ledger_ts  INTEGER NOT NULL,
    op         TEXT    NOT NULL,
    caller     TEXT    NOT NULL,
    horse_id   INTEGER NOT NULL DEFAULT 0,
    amount     TEXT    NOT NULL DEFAULT '0',
    round_id   INTEGER NOT NULL DEFAULT 0
);

-- Eventos emitidos por cada llamada
CREATE TABLE IF NOT EXISTS events (
    seq       INTEGER NOT NULL,
    idx       INTEGER NOT NULL,
    type      TEXT    NOT NULL,
    round_id  INTEGER NOT NULL DEFAULT 0,
    payload   TEXT    NOT NULL,
    PRIMARY KEY (seq, idx)
);

-- Una fila por ronda
CREATE TABLE IF NOT EXISTS rounds (
    round_id   INTEGER PRIMARY KEY,
    start_time INTEGER NOT NULL,
    settled    INTEGER NOT NULL DEFAULT 0,
    winner     INTEGER NOT NULL DEFAULT 0,
    retained   TEXT    NOT NULL DEFAULT '0',
    settled_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_events_round ON events(round_id, seq);
`

// SQLiteStorage implementa ports.Journal y ports.History usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Append guarda la llamada, sus eventos y el resumen de ronda en una sola transacción.
func (s *SQLiteStorage) Append(ctx context.Context, entry domain.JournalEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Append: begin tx: %w", err)
	}
	defer tx.Rollback()

	c := entry.Call
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO journal (seq, ledger_ts, op, caller, horse_id, amount, round_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Seq, entry.Time, string(c.Op), c.Caller.Hex(), int(c.HorseID), c.Amount.String(), c.RoundID,
	); err != nil {
		return fmt.Errorf("storage.Append: insert journal %d: %w", entry.Seq, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (seq, idx, type, round_id, payload) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("storage.Append: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range entry.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("storage.Append: marshal event: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ev.Seq, ev.Index, string(ev.Type), ev.RoundID, string(payload)); err != nil {
			return fmt.Errorf("storage.Append: insert event %s: %w", ev.Key(), err)
		}
		if err := applyRoundEvent(ctx, tx, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Append: commit: %w", err)
	}
	return nil
}

// applyRoundEvent mantiene la tabla rounds al día.
func applyRoundEvent(ctx context.Context, tx *sql.Tx, ev domain.Event) error {
	var err error
	switch ev.Type {
	case domain.EventRoundStarted:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO rounds (round_id, start_time) VALUES (?, ?)`,
			ev.RoundID, ev.StartTime,
		)
	case domain.EventRoundSettled:
		_, err = tx.ExecContext(ctx,
			`UPDATE rounds SET settled = 1, winner = ?, retained = ?, settled_at = ? WHERE round_id = ?`,
			int(ev.Winner), ev.Retained.String(), ev.Time, ev.RoundID,
		)
	}
	if err != nil {
		return fmt.Errorf("storage.Append: round %d: %w", ev.RoundID, err)
	}
	return nil
}

// Entries devuelve el journal completo ordenado por seq.
func (s *SQLiteStorage) Entries(ctx context.Context) ([]domain.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, ledger_ts, op, caller, horse_id, amount, round_id FROM journal ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.Entries: query: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var op, caller, amount string
		var horse int
		if err := rows.Scan(&e.Seq, &e.Time, &op, &caller, &horse, &amount, &e.Call.RoundID); err != nil {
			return nil, fmt.Errorf("storage.Entries: scan row: %w", err)
		}
		e.Call.Op = domain.Op(op)
		e.Call.Caller = common.HexToAddress(caller)
		e.Call.HorseID = domain.HorseID(horse)
		if e.Call.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("storage.Entries: seq %d: amount: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.Entries: %w", err)
	}

	events, err := s.eventsBySeq(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Events = events[entries[i].Seq]
	}
	return entries, nil
}

func (s *SQLiteStorage) eventsBySeq(ctx context.Context) (map[uint64][]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM events ORDER BY seq, idx`)
	if err != nil {
		return nil, fmt.Errorf("storage.Entries: query events: %w", err)
	}
	defer rows.Close()

	out := map[uint64][]domain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.Entries: %w", err)
		}
		out[ev.Seq] = append(out[ev.Seq], ev)
	}
	return out, rows.Err()
}

// Events devuelve los eventos de una ronda en orden de ledger.
func (s *SQLiteStorage) Events(ctx context.Context, roundID uint64) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE round_id = ? ORDER BY seq, idx`, roundID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.Events: query: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.Events: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EventsSince devuelve los eventos con seq mayor que after, en orden de ledger.
// El forwarder lo usa para recuperar lo que se perdió con el stream caído.
func (s *SQLiteStorage) EventsSince(ctx context.Context, after uint64) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE seq > ? ORDER BY seq, idx`, after,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.EventsSince: query: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.EventsSince: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Rounds devuelve las últimas rondas, la más reciente primero.
func (s *SQLiteStorage) Rounds(ctx context.Context, limit int) ([]domain.Round, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_id, start_time, settled, winner, retained
		FROM rounds
		ORDER BY round_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Rounds: query: %w", err)
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		var r domain.Round
		var settled, winner int
		var retained string
		if err := rows.Scan(&r.ID, &r.StartTime, &settled, &winner, &retained); err != nil {
			return nil, fmt.Errorf("storage.Rounds: scan row: %w", err)
		}
		r.Settled = settled == 1
		r.Winner = domain.HorseID(winner)
		r.Retained, _ = decimal.NewFromString(retained)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var payload string
	var ev domain.Event
	if err := rows.Scan(&payload); err != nil {
		return ev, fmt.Errorf("scan event: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
