package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a Gateway backed by PostgreSQL for self-hosted
// deployments. Records are stored as one JSONB document per entity so
// the gateway stays schema-agnostic, matching the Dynamics field model.
type Postgres struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS crm_records (
	entity_type text NOT NULL,
	id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	fields jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS crm_records_entity_idx ON crm_records (entity_type);
`

// NewPostgres creates a Postgres gateway with a connection pool and
// applies the schema.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Retrieve fetches a single record by id. Returns (nil, nil) when the
// record does not exist or the id is not a UUID.
func (p *Postgres) Retrieve(ctx context.Context, entityType, id string, fields []string) (Record, error) {
	defer observe("retrieve", time.Now())

	recordID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}

	var raw []byte
	err = p.pool.QueryRow(ctx, `
		SELECT fields FROM crm_records
		WHERE entity_type = $1 AND id = $2
	`, entityType, recordID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		return nil, err
	}
	rec[FieldID] = recordID.String()
	return projectFields(rec, fields), nil
}

// RetrieveMultiple runs a filtered query. Conditions map to JSONB text
// comparisons; ordering compares the stored text ascending, which is
// chronological for TimeLayout timestamps.
func (p *Postgres) RetrieveMultiple(ctx context.Context, q Query) ([]Record, error) {
	defer observe("retrieve_multiple", time.Now())

	var sb strings.Builder
	sb.WriteString(`SELECT id, fields FROM crm_records WHERE entity_type = $1`)
	args := []any{q.EntityType}

	for _, c := range q.Conditions {
		args = append(args, c.Field)
		fieldArg := len(args)
		args = append(args, conditionText(c))
		valueArg := len(args)

		switch c.Op {
		case OpLike:
			fmt.Fprintf(&sb, " AND fields->>$%d ILIKE $%d", fieldArg, valueArg)
		default:
			fmt.Fprintf(&sb, " AND fields->>$%d = $%d", fieldArg, valueArg)
		}
	}

	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		fmt.Fprintf(&sb, " ORDER BY fields->>$%d ASC", len(args))
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var id uuid.UUID
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		rec[FieldID] = id.String()
		records = append(records, projectFields(rec, q.Fields))
	}
	return records, rows.Err()
}

// Create inserts a record and returns the generated id.
func (p *Postgres) Create(ctx context.Context, entityType string, fields map[string]any) (string, error) {
	defer observe("create", time.Now())

	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	var id uuid.UUID
	err = p.pool.QueryRow(ctx, `
		INSERT INTO crm_records (entity_type, fields)
		VALUES ($1, $2)
		RETURNING id
	`, entityType, raw).Scan(&id)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Update merges the given fields into an existing record.
func (p *Postgres) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	defer observe("update", time.Now())

	recordID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q", id)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE crm_records SET fields = fields || $3
		WHERE entity_type = $1 AND id = $2
	`, entityType, recordID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s/%s not found", entityType, id)
	}
	return nil
}

// Delete removes a record.
func (p *Postgres) Delete(ctx context.Context, entityType, id string) error {
	defer observe("delete", time.Now())

	recordID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q", id)
	}

	_, err = p.pool.Exec(ctx, `
		DELETE FROM crm_records WHERE entity_type = $1 AND id = $2
	`, entityType, recordID)
	return err
}

// Assign rewrites the record's owner field.
func (p *Postgres) Assign(ctx context.Context, entityType, id, assigneeID string) error {
	return p.Update(ctx, entityType, id, map[string]any{FieldOwner: assigneeID})
}

func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// conditionText renders a condition value the way ->> renders the
// stored JSON scalar, with %-wrapping for ILIKE.
func conditionText(c Condition) string {
	text := fmt.Sprintf("%v", c.Value)
	if c.Op == OpLike {
		return "%" + text + "%"
	}
	return text
}

func projectFields(rec Record, fields []string) Record {
	if len(fields) == 0 {
		return rec
	}
	out := make(Record, len(fields)+1)
	out[FieldID] = rec[FieldID]
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}
