package storage

import (
	"time"

	"github.com/powertac/powertac-tools/internal/model"
)

// RecordExtraction appends one pipeline outcome to the ledger. An empty At is
// stamped with the current UTC time.
func (db *DB) RecordExtraction(rec model.ExtractionRecord) error {
	if rec.At == "" {
		rec.At = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := db.conn.Exec(db.qb.Build(`
		INSERT INTO extraction(game_id, prefix, path, cached, status, message, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.GameID, rec.Prefix, rec.Path, boolInt(rec.Cached), rec.Status, rec.Message, rec.At)
	return err
}

// ListExtractions returns ledger rows newest first. An empty prefix matches
// all rows; limit <= 0 means no limit.
func (db *DB) ListExtractions(prefix string, limit int) ([]model.ExtractionRecord, error) {
	query := `SELECT game_id, prefix, path, cached, status, message, at FROM extraction`
	var args []any
	if prefix != "" {
		query += ` WHERE prefix = ?`
		args = append(args, prefix)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.conn.Query(db.qb.Build(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExtractionRecord
	for rows.Next() {
		var r model.ExtractionRecord
		var cached int
		if err := rows.Scan(&r.GameID, &r.Prefix, &r.Path, &cached, &r.Status, &r.Message, &r.At); err != nil {
			return nil, err
		}
		r.Cached = cached != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveAccounting upserts per-game broker totals.
func (db *DB) SaveAccounting(rows []model.AccountingRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(db.qb.Build(`
		INSERT INTO broker_accounting(game_id, broker, item, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (game_id, broker, item) DO UPDATE SET value = excluded.value`))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.GameID, r.Broker, r.Item, r.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}
