package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Amund211/duelhistory/internal/reporting"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Postgres struct {
	db      *sqlx.DB
	schema  string
	nowFunc func() time.Time

	tracer trace.Tracer
}

func NewPostgres(db *sqlx.DB, schema string, nowFunc func() time.Time) *Postgres {
	tracer := otel.Tracer("duelhistory/kvstore/postgres")

	return &Postgres{
		db:      db,
		schema:  schema,
		nowFunc: nowFunc,

		tracer: tracer,
	}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	var value []byte
	err := p.db.GetContext(ctx, &value, fmt.Sprintf(
		`SELECT value FROM %s.kv_entries WHERE key = $1`,
		pq.QuoteIdentifier(p.schema),
	),
		key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		err := fmt.Errorf("failed to select kv entry: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"key": key,
		})
		return nil, false, err
	}

	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if !json.Valid(value) {
		err := fmt.Errorf("value is not valid json")
		reporting.Report(ctx, err, map[string]string{
			"key": key,
		})
		return err
	}

	_, err := p.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s.kv_entries
		(key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		pq.QuoteIdentifier(p.schema),
	),
		key,
		// lib/pq would encode []byte as bytea
		string(value),
		p.nowFunc(),
	)
	if err != nil {
		err := fmt.Errorf("failed to upsert kv entry: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"key": key,
		})
		return err
	}

	return nil
}
