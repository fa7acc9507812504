package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists verdicts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed verdict store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the verdicts table if it doesn't exist.
// Production deployments run the goose migrations instead.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS verdicts (
			id            VARCHAR(36) PRIMARY KEY,
			target_kind   VARCHAR(16) NOT NULL CHECK (target_kind IN ('address', 'transaction')),
			target_ref    VARCHAR(80) NOT NULL,
			score         NUMERIC(4,3) NOT NULL CHECK (score >= 0 AND score <= 1),
			level         VARCHAR(10) NOT NULL CHECK (level IN ('low', 'medium', 'high', 'critical', 'unknown')),
			method        VARCHAR(16) NOT NULL CHECK (method IN ('ai_enhanced', 'rule_based')),
			model_used    BOOLEAN NOT NULL DEFAULT FALSE,
			explanation   JSONB NOT NULL DEFAULT '{}',
			evaluated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_verdicts_target
			ON verdicts (target_kind, target_ref, evaluated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_verdicts_high_risk
			ON verdicts (evaluated_at DESC) WHERE level IN ('high', 'critical');
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, v *Verdict) error {
	explanation := []byte("{}")
	if v.Explanation != nil {
		var err error
		explanation, err = json.Marshal(v.Explanation)
		if err != nil {
			return fmt.Errorf("failed to marshal explanation: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verdicts (id, target_kind, target_ref, score, level, method, model_used, explanation, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		v.ID,
		string(v.Target.Kind),
		v.Target.Reference,
		v.Score,
		string(v.Level),
		string(v.Method),
		v.ModelAvailable,
		explanation,
		v.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record verdict: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByTarget(ctx context.Context, target Target, limit int) ([]*Verdict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_kind, target_ref, score, level, method, model_used, explanation, evaluated_at
		FROM verdicts
		WHERE target_kind = $1 AND target_ref = $2
		ORDER BY evaluated_at DESC
		LIMIT $3
	`, string(target.Kind), target.Reference, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Verdict
	for rows.Next() {
		var v Verdict
		var kind, level, method string
		var explanation []byte
		var evaluatedAt time.Time

		if err := rows.Scan(&v.ID, &kind, &v.Target.Reference, &v.Score, &level, &method, &v.ModelAvailable, &explanation, &evaluatedAt); err != nil {
			continue
		}
		v.Target.Kind = Kind(kind)
		v.Level = Level(level)
		v.Method = Method(method)
		v.EvaluatedAt = evaluatedAt
		if len(explanation) > 0 && string(explanation) != "{}" {
			var exp Explanation
			if json.Unmarshal(explanation, &exp) == nil {
				v.Explanation = &exp
			}
		}
		result = append(result, &v)
	}
	return result, rows.Err()
}
