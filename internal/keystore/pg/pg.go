// Package pg implementa el keystore sobre PostgreSQL con pgx.
// Pensado para despliegues donde varios procesos comparten el key store
// (p.ej. un gateway de cifrado); el cliente de escritorio usa keystore/fs.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/nickel/internal/keys"
	"github.com/dropDatabas3/nickel/internal/keystore"
)

type Store struct{ pool *pgxpool.Pool }

type Config struct {
	MaxConns        int
	MinConns        int
	ConnMaxLifetime string
}

func New(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(cfg.ConnMaxLifetime); err == nil {
			pcfg.MaxConnLifetime = d
			pcfg.MaxConnIdleTime = d
		}
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 5
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("keystore pg: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("keystore pg: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

const selectCols = `key_id, fingerprint, addresses, type, material, private,
	validation, encr_used, sign_used, created_at, refreshed_at`

func (s *Store) Find(ctx context.Context, typ keys.Type, address string, private bool) (*keys.Key, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+selectCols+`
		FROM keymanager_keys
		WHERE type = $1 AND private = $2 AND $3 = ANY(addresses)
		LIMIT 1`, string(typ), private, address)
	k, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, keystore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keystore pg: find: %w", err)
	}
	return k, nil
}

func (s *Store) Write(ctx context.Context, k *keys.Key) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO keymanager_keys
			(key_id, fingerprint, addresses, type, material, private,
			 validation, encr_used, sign_used, created_at, refreshed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (type, fingerprint, private) DO UPDATE SET
			key_id = EXCLUDED.key_id,
			addresses = EXCLUDED.addresses,
			material = EXCLUDED.material,
			validation = EXCLUDED.validation,
			encr_used = EXCLUDED.encr_used,
			sign_used = EXCLUDED.sign_used,
			refreshed_at = EXCLUDED.refreshed_at`,
		k.KeyID, k.Fingerprint, k.Addresses, string(k.Type), k.Material, k.Private,
		int(k.Validation), k.EncrUsed, k.SignUsed, k.CreatedAt, k.RefreshedAt)
	if err != nil {
		return fmt.Errorf("keystore pg: write: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, k *keys.Key) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM keymanager_keys
		WHERE type = $1 AND fingerprint = $2 AND private = $3`,
		string(k.Type), k.Fingerprint, k.Private)
	if err != nil {
		return fmt.Errorf("keystore pg: delete: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, private bool) ([]*keys.Key, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectCols+`
		FROM keymanager_keys
		WHERE private = $1`, private)
	if err != nil {
		return nil, fmt.Errorf("keystore pg: list: %w", err)
	}
	defer rows.Close()

	var out []*keys.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("keystore pg: list scan: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keystore pg: list rows: %w", err)
	}
	return out, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanKey(row rowScanner) (*keys.Key, error) {
	var (
		k          keys.Key
		typ        string
		validation int
	)
	err := row.Scan(&k.KeyID, &k.Fingerprint, &k.Addresses, &typ, &k.Material,
		&k.Private, &validation, &k.EncrUsed, &k.SignUsed, &k.CreatedAt, &k.RefreshedAt)
	if err != nil {
		return nil, err
	}
	k.Type = keys.Type(typ)
	k.Validation = keys.ValidationLevel(validation)
	return &k, nil
}
