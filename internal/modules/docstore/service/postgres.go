package service

import (
	"context"
	"fmt"
	"time"

	"signal_bot/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	key        text PRIMARY KEY,
	data       jsonb NOT NULL,
	version    bigint NOT NULL DEFAULT 1,
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS counters (
	key   text NOT NULL,
	field text NOT NULL,
	value double precision NOT NULL DEFAULT 0,
	PRIMARY KEY (key, field)
);`

const (
	getSQL = `SELECT key, data, version, updated_at FROM documents WHERE key = $1`

	putSQL = `
INSERT INTO documents (key, data, version, updated_at) VALUES ($1, $2, 1, now())
ON CONFLICT (key) DO UPDATE SET data = excluded.data, version = documents.version + 1, updated_at = now()`

	insertIfAbsentSQL = `
INSERT INTO documents (key, data, version, updated_at) VALUES ($1, $2, 1, now())
ON CONFLICT (key) DO NOTHING`

	casSQL = `
UPDATE documents SET data = $3, version = version + 1, updated_at = now()
WHERE key = $1 AND version = $2`

	deleteSQL = `DELETE FROM documents WHERE key = $1`

	deleteVersionSQL = `DELETE FROM documents WHERE key = $1 AND version = $2`

	// left() instead of LIKE: keys contain '_' which LIKE treats as a wildcard
	deleteByPrefixSQL = `DELETE FROM documents WHERE left(key, length($1)) = $1`

	findByPrefixSQL = `
SELECT key, data, version, updated_at FROM documents
WHERE left(key, length($1)) = $1 ORDER BY key`

	incrementSQL = `
INSERT INTO counters (key, field, value) VALUES ($1, $2, $3)
ON CONFLICT (key, field) DO UPDATE SET value = counters.value + excluded.value
RETURNING value`

	countersSQL = `SELECT field, value FROM counters WHERE key = $1`
)

// Postgres stores documents in a single jsonb table.
type Postgres struct {
	tm db.TxManager
}

func NewPostgres(tm db.TxManager) *Postgres {
	return &Postgres{tm: tm}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return p.tm.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, schemaSQL)
		return errors.Wrap(err, "create schema")
	})
}

func scanDocument(row pgx.Row) (Document, error) {
	var (
		d  Document
		ts time.Time
	)
	if err := row.Scan(&d.Key, &d.Data, &d.Version, &ts); err != nil {
		return Document{}, err
	}
	d.UpdatedAt = ts
	return d, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (d Document, err error) {
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			err = fmt.Errorf("Postgres.Get %s: %w", key, err)
		}
	}()

	d, err = scanDocument(p.tm.Conn().QueryRow(ctx, getSQL, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return d, err
}

func (p *Postgres) Put(ctx context.Context, key string, data []byte) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Postgres.Put %s: %w", key, err)
		}
	}()

	_, err = p.tm.Conn().Exec(ctx, putSQL, key, data)
	return err
}

func (p *Postgres) InsertIfAbsent(ctx context.Context, key string, data []byte) (ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Postgres.InsertIfAbsent %s: %w", key, err)
		}
	}()

	tag, err := p.tm.Conn().Exec(ctx, insertIfAbsentSQL, key, data)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) CompareAndSwap(ctx context.Context, key string, version int64, data []byte) (ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Postgres.CompareAndSwap %s: %w", key, err)
		}
	}()

	tag, err := p.tm.Conn().Exec(ctx, casSQL, key, version, data)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) (ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Postgres.Delete %s: %w", key, err)
		}
	}()

	tag, err := p.tm.Conn().Exec(ctx, deleteSQL, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) DeleteVersion(ctx context.Context, key string, version int64) (ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Postgres.DeleteVersion %s: %w", key, err)
		}
	}()

	tag, err := p.tm.Conn().Exec(ctx, deleteVersionSQL, key, version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) DeleteByPrefix(ctx context.Context, prefix string) (n int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Postgres.DeleteByPrefix %s: %w", prefix, err)
		}
	}()

	tag, err := p.tm.Conn().Exec(ctx, deleteByPrefixSQL, prefix)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) FindByPrefix(ctx context.Context, prefix string) (out []Document, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Postgres.FindByPrefix %s: %w", prefix, err)
		}
	}()

	rows, err := p.tm.Conn().Query(ctx, findByPrefixSQL, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) Increment(ctx context.Context, key, field string, delta float64) (v float64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Postgres.Increment %s.%s: %w", key, field, err)
		}
	}()

	err = p.tm.Conn().QueryRow(ctx, incrementSQL, key, field, delta).Scan(&v)
	return v, err
}

func (p *Postgres) Counters(ctx context.Context, key string) (out map[string]float64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Postgres.Counters %s: %w", key, err)
		}
	}()

	rows, err := p.tm.Conn().Query(ctx, countersSQL, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make(map[string]float64)
	for rows.Next() {
		var (
			f string
			v float64
		)
		if err := rows.Scan(&f, &v); err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, rows.Err()
}

var _ Store = (*Postgres)(nil)
