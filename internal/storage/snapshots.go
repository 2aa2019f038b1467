package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"offerdesk/internal/model"
)

const (
	dirSent     = "sent"
	dirReceived = "received"
)

// LoadSnapshot returns the last saved poll snapshot. An empty store yields
// an empty snapshot.
func (d *DB) LoadSnapshot(ctx context.Context) (model.PollSnapshot, error) {
	snap := model.PollSnapshot{}.Clone()

	rows, err := d.QueryContext(ctx, `SELECT direction, offer_id, state FROM poll_states;`)
	if err != nil {
		return model.PollSnapshot{}, err
	}
	for rows.Next() {
		var dir, id string
		var state int
		if err := rows.Scan(&dir, &id, &state); err != nil {
			_ = rows.Close()
			return model.PollSnapshot{}, err
		}
		if dir == dirSent {
			snap.Sent[id] = model.OfferState(state)
		} else {
			snap.Received[id] = model.OfferState(state)
		}
	}
	if err := closeRows(rows); err != nil {
		return model.PollSnapshot{}, err
	}

	rows, err = d.QueryContext(ctx, `SELECT offer_id, ts FROM poll_timestamps;`)
	if err != nil {
		return model.PollSnapshot{}, err
	}
	for rows.Next() {
		var id string
		var ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			_ = rows.Close()
			return model.PollSnapshot{}, err
		}
		snap.Timestamps[id] = ts
	}
	if err := closeRows(rows); err != nil {
		return model.PollSnapshot{}, err
	}

	rows, err = d.QueryContext(ctx, `SELECT offer_id, data FROM poll_offer_data;`)
	if err != nil {
		return model.PollSnapshot{}, err
	}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			_ = rows.Close()
			return model.PollSnapshot{}, err
		}
		var data model.OfferData
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			_ = rows.Close()
			return model.PollSnapshot{}, fmt.Errorf("offer data %s: %w", id, err)
		}
		snap.OfferData[id] = data
	}
	if err := closeRows(rows); err != nil {
		return model.PollSnapshot{}, err
	}
	return snap, nil
}

// SaveSnapshot replaces the stored snapshot with snap in one transaction.
func (d *DB) SaveSnapshot(ctx context.Context, snap model.PollSnapshot) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM poll_states;`,
		`DELETE FROM poll_timestamps;`,
		`DELETE FROM poll_offer_data;`,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	insState, err := tx.PrepareContext(ctx, `INSERT INTO poll_states(direction, offer_id, state) VALUES(?, ?, ?);`)
	if err != nil {
		return err
	}
	defer insState.Close()
	for dir, states := range map[string]map[string]model.OfferState{dirSent: snap.Sent, dirReceived: snap.Received} {
		for id, st := range states {
			if _, err := insState.ExecContext(ctx, dir, id, int(st)); err != nil {
				return fmt.Errorf("save state %s: %w", id, err)
			}
		}
	}

	insTS, err := tx.PrepareContext(ctx, `INSERT INTO poll_timestamps(offer_id, ts) VALUES(?, ?);`)
	if err != nil {
		return err
	}
	defer insTS.Close()
	for id, ts := range snap.Timestamps {
		if _, err := insTS.ExecContext(ctx, id, ts); err != nil {
			return fmt.Errorf("save timestamp %s: %w", id, err)
		}
	}

	insData, err := tx.PrepareContext(ctx, `INSERT INTO poll_offer_data(offer_id, data) VALUES(?, ?);`)
	if err != nil {
		return err
	}
	defer insData.Close()
	for id, data := range snap.OfferData {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := insData.ExecContext(ctx, id, string(b)); err != nil {
			return fmt.Errorf("save offer data %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO poll_meta(id, saved_at_ns) VALUES(1, ?)
ON CONFLICT(id) DO UPDATE SET saved_at_ns = excluded.saved_at_ns;
`, time.Now().UnixNano()); err != nil {
		return err
	}
	return tx.Commit()
}

// SavedAt reports when the snapshot was last saved; zero if never.
func (d *DB) SavedAt(ctx context.Context) (time.Time, error) {
	var ns int64
	err := d.QueryRowContext(ctx, `SELECT saved_at_ns FROM poll_meta WHERE id = 1;`).Scan(&ns)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, ns), nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}
