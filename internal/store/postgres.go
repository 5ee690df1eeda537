package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads documents from the tabular schema owned by the CRUD
// service. Column layout: records keep their cells in a jsonb "fields"
// column; every document row carries a bigint "version" bumped on write.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pgx pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, tableID, recordID string) (*Record, error) {
	var fieldsJSON []byte
	rec := &Record{ID: recordID, TableID: tableID}
	err := s.pool.QueryRow(ctx,
		`SELECT fields, version FROM records WHERE table_id = $1 AND id = $2`,
		tableID, recordID,
	).Scan(&fieldsJSON, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record %s/%s: %w", tableID, recordID, err)
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode record fields %s/%s: %w", tableID, recordID, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecordIDs(ctx context.Context, tableID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM records WHERE table_id = $1 ORDER BY created_at, id`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list record ids for %s: %w", tableID, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *PostgresStore) GetField(ctx context.Context, tableID, fieldID string) (*Field, error) {
	f := &Field{ID: fieldID, TableID: tableID}
	err := s.pool.QueryRow(ctx,
		`SELECT name, type, version FROM fields WHERE table_id = $1 AND id = $2`,
		tableID, fieldID,
	).Scan(&f.Name, &f.Type, &f.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query field %s/%s: %w", tableID, fieldID, err)
	}
	return f, nil
}

func (s *PostgresStore) ListFieldIDs(ctx context.Context, tableID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM fields WHERE table_id = $1 ORDER BY position, id`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list field ids for %s: %w", tableID, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *PostgresStore) GetView(ctx context.Context, tableID, viewID string) (*View, error) {
	v := &View{ID: viewID, TableID: tableID}
	err := s.pool.QueryRow(ctx,
		`SELECT name, type, version FROM views WHERE table_id = $1 AND id = $2`,
		tableID, viewID,
	).Scan(&v.Name, &v.Type, &v.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query view %s/%s: %w", tableID, viewID, err)
	}
	return v, nil
}

func (s *PostgresStore) ListViewIDs(ctx context.Context, tableID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM views WHERE table_id = $1 ORDER BY position, id`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list view ids for %s: %w", tableID, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *PostgresStore) GetTable(ctx context.Context, tableID string) (*Table, error) {
	t := &Table{ID: tableID}
	err := s.pool.QueryRow(ctx,
		`SELECT name, version FROM tables WHERE id = $1`, tableID,
	).Scan(&t.Name, &t.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query table %s: %w", tableID, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTableIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM tables ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list table ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
