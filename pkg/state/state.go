// Package state is the sqlite-backed default implementation of
// pkg/config.Persistence: one table per concern, plain database/sql, no ORM.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/asus-linux/supergfxd/api/v1"
)

const (
	TableNameConfig  = "config"
	TableNamePending = "pending_state"

	columnConfigID   = "id"
	columnConfigData = "data"

	columnPendingID   = "id"
	columnPendingData = "data"

	singletonRowID = 1
)

// Store implements pkg/config.Persistence against a *sql.DB opened via
// pkg/sqlite.Open.
type Store struct {
	dbRW *sql.DB
	dbRO *sql.DB
}

// New creates the config/pending tables if absent and returns a Store.
// dbRO may be the same handle as dbRW when no read-only connection is
// available.
func New(ctx context.Context, dbRW, dbRO *sql.DB) (*Store, error) {
	if dbRO == nil {
		dbRO = dbRW
	}
	if _, err := dbRW.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY, %s TEXT NOT NULL)`,
		TableNameConfig, columnConfigID, columnConfigData,
	)); err != nil {
		return nil, fmt.Errorf("creating %s table: %w", TableNameConfig, err)
	}
	if _, err := dbRW.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY, %s TEXT NOT NULL)`,
		TableNamePending, columnPendingID, columnPendingData,
	)); err != nil {
		return nil, fmt.Errorf("creating %s table: %w", TableNamePending, err)
	}
	return &Store{dbRW: dbRW, dbRO: dbRO}, nil
}

func (s *Store) LoadConfig(ctx context.Context) (*v1.Config, error) {
	var data string
	err := s.dbRO.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, columnConfigData, TableNameConfig, columnConfigID),
		singletonRowID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg := &v1.Config{}
	if err := json.Unmarshal([]byte(data), cfg); err != nil {
		return nil, fmt.Errorf("decoding stored config: %w", err)
	}
	return cfg, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg *v1.Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.dbRW.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s, %s) VALUES (?, ?)
		 ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s`,
		TableNameConfig, columnConfigID, columnConfigData,
		columnConfigID, columnConfigData, columnConfigData,
	), singletonRowID, string(data))
	return err
}

func (s *Store) LoadPending(ctx context.Context) (*v1.PendingState, error) {
	var data string
	err := s.dbRO.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, columnPendingData, TableNamePending, columnPendingID),
		singletonRowID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := &v1.PendingState{}
	if err := json.Unmarshal([]byte(data), p); err != nil {
		return nil, fmt.Errorf("decoding stored pending state: %w", err)
	}
	return p, nil
}

func (s *Store) SavePending(ctx context.Context, p *v1.PendingState) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.dbRW.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s, %s) VALUES (?, ?)
		 ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s`,
		TableNamePending, columnPendingID, columnPendingData,
		columnPendingID, columnPendingData, columnPendingData,
	), singletonRowID, string(data))
	return err
}

func (s *Store) ClearPending(ctx context.Context) error {
	_, err := s.dbRW.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, TableNamePending, columnPendingID),
		singletonRowID,
	)
	return err
}

func (s *Store) Close() error {
	if s.dbRO != s.dbRW {
		if err := s.dbRO.Close(); err != nil {
			return err
		}
	}
	return s.dbRW.Close()
}
