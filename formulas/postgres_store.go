package formulas

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/liamcoop/formulas/expr"
)

// PostgresConfigStore implements ConfigStore backed by PostgreSQL.
// Every write runs in a transaction holding an advisory lock on the scope key.
type PostgresConfigStore struct {
	db *sql.DB
}

// NewPostgresConfigStore creates a PostgreSQL-backed ConfigStore
func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db}
}

const formulaColumns = `id, report_id, use_case_id, field_key, label, expression, input_fields,
	constants, version, is_active, notes, created_by, created_at, updated_at`

const scopeMatch = `report_id IS NOT DISTINCT FROM $1 AND use_case_id IS NOT DISTINCT FROM $2 AND field_key = $3`

// Create inserts the next version of the request's scope
func (s *PostgresConfigStore) Create(ctx context.Context, req NewFormula) (*FormulaConfig, error) {
	if err := validateNewFormula(req); err != nil {
		return nil, err
	}

	var cfg *FormulaConfig
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockScope(ctx, tx, req.Scope); err != nil {
			return err
		}
		var err error
		cfg, err = insertFormula(ctx, tx, req, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListVersions returns every version in the exact scope, newest first
func (s *PostgresConfigStore) ListVersions(ctx context.Context, scope Scope) ([]*FormulaConfig, error) {
	r, u, f := scopeArgs(scope)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+formulaColumns+`
		FROM formula_configs
		WHERE `+scopeMatch+`
		ORDER BY version DESC
	`, r, u, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list formula versions: %w", err)
	}
	defer rows.Close()

	list := []*FormulaConfig{}
	for rows.Next() {
		cfg, err := scanFormula(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating formula versions: %w", err)
	}
	return list, nil
}

// Get retrieves a config by id
func (s *PostgresConfigStore) Get(ctx context.Context, id string) (*FormulaConfig, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}

	cfg, err := scanFormula(s.db.QueryRowContext(ctx, `
		SELECT `+formulaColumns+`
		FROM formula_configs
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get formula: %w", err)
	}
	return cfg, nil
}

// Activate deactivates the siblings of id and activates it in one transaction
func (s *PostgresConfigStore) Activate(ctx context.Context, id string) (*FormulaConfig, error) {
	target, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var cfg *FormulaConfig
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockScope(ctx, tx, target.Scope); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := deactivateScope(ctx, tx, target.Scope, now); err != nil {
			return err
		}

		var err error
		cfg, err = scanFormula(tx.QueryRowContext(ctx, `
			UPDATE formula_configs
			SET is_active = true, updated_at = $2
			WHERE id = $1
			RETURNING `+formulaColumns, id, now))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %s", ErrNotFound, id)
		}
		if err != nil {
			return mapStoreError("failed to activate formula", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ActiveIn returns the single active config of the exact scope
func (s *PostgresConfigStore) ActiveIn(ctx context.Context, scope Scope) (*FormulaConfig, error) {
	r, u, f := scopeArgs(scope)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+formulaColumns+`
		FROM formula_configs
		WHERE `+scopeMatch+` AND is_active = true
		ORDER BY version DESC
		LIMIT 2
	`, r, u, f)
	if err != nil {
		return nil, fmt.Errorf("failed to query active formula: %w", err)
	}
	defer rows.Close()

	var active []*FormulaConfig
	for rows.Next() {
		cfg, err := scanFormula(rows)
		if err != nil {
			return nil, err
		}
		active = append(active, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active formulas: %w", err)
	}

	switch len(active) {
	case 0:
		return nil, fmt.Errorf("%w: no active formula in %s", ErrNotFound, scope)
	case 1:
		return active[0], nil
	}
	return nil, fmt.Errorf("%w: multiple active formulas in %s", ErrActivationConflict, scope)
}

// GetActive resolves the formula in effect for scope
func (s *PostgresConfigStore) GetActive(ctx context.Context, scope Scope) (*FormulaConfig, error) {
	return ResolveActive(ctx, s, scope)
}

// SeedDefaults creates the default library for reportID in a single transaction.
// Scope locks are taken in library order so concurrent seeders cannot deadlock.
func (s *PostgresConfigStore) SeedDefaults(ctx context.Context, reportID string) ([]*FormulaConfig, error) {
	created := []*FormulaConfig{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, d := range Defaults() {
			scope := seedScope(reportID, d.FieldKey)
			if err := lockScope(ctx, tx, scope); err != nil {
				return err
			}

			r, u, f := scopeArgs(scope)
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS(SELECT 1 FROM formula_configs WHERE `+scopeMatch+`)
			`, r, u, f).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check existing formula: %w", err)
			}
			if exists {
				continue
			}

			cfg, err := insertFormula(ctx, tx, NewFromDefault(d, scope), now)
			if err != nil {
				return err
			}
			created = append(created, cfg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PostgresConfigStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapStoreError("failed to commit transaction", err)
	}
	return nil
}

// lockScope serializes writers of one scope until the transaction ends
func lockScope(ctx context.Context, tx *sql.Tx, scope Scope) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope.Key()); err != nil {
		return fmt.Errorf("failed to lock scope %s: %w", scope, err)
	}
	return nil
}

func deactivateScope(ctx context.Context, tx *sql.Tx, scope Scope, now time.Time) error {
	r, u, f := scopeArgs(scope)
	if _, err := tx.ExecContext(ctx, `
		UPDATE formula_configs
		SET is_active = false, updated_at = $4
		WHERE `+scopeMatch+` AND is_active = true
	`, r, u, f, now); err != nil {
		return fmt.Errorf("failed to deactivate formulas: %w", err)
	}
	return nil
}

// insertFormula must run with the scope lock held
func insertFormula(ctx context.Context, tx *sql.Tx, req NewFormula, now time.Time) (*FormulaConfig, error) {
	r, u, f := scopeArgs(req.Scope)

	var version int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM formula_configs
		WHERE `+scopeMatch, r, u, f).Scan(&version); err != nil {
		return nil, fmt.Errorf("failed to compute next version: %w", err)
	}

	if req.MakeActive {
		if err := deactivateScope(ctx, tx, req.Scope, now); err != nil {
			return nil, err
		}
	}

	inputFields := req.InputFields
	if inputFields == nil {
		inputFields = []string{}
	}
	constants := req.Constants
	if constants == nil {
		constants = []expr.Constant{}
	}
	constantsJSON, err := json.Marshal(constants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal constants: %w", err)
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = CreatedByUser
	}

	cfg, err := scanFormula(tx.QueryRowContext(ctx, `
		INSERT INTO formula_configs (id, report_id, use_case_id, field_key, label, expression,
			input_fields, constants, version, is_active, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING `+formulaColumns,
		uuid.NewString(), r, u, f, req.Label, req.Expression,
		pq.Array(inputFields), constantsJSON, version, req.MakeActive,
		nullString(req.Notes), createdBy, now))
	if err != nil {
		return nil, mapStoreError("failed to insert formula", err)
	}
	return cfg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFormula(row rowScanner) (*FormulaConfig, error) {
	var (
		cfg                        FormulaConfig
		reportID, useCaseID, notes sql.NullString
		fieldKey                   string
		constantsJSON              []byte
	)
	err := row.Scan(
		&cfg.ID,
		&reportID,
		&useCaseID,
		&fieldKey,
		&cfg.Label,
		&cfg.Expression,
		pq.Array(&cfg.InputFields),
		&constantsJSON,
		&cfg.Version,
		&cfg.IsActive,
		&notes,
		&cfg.CreatedBy,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	scope, err := NewScope(reportID.String, useCaseID.String, fieldKey)
	if err != nil {
		return nil, fmt.Errorf("stored formula %s has invalid scope: %w", cfg.ID, err)
	}
	cfg.Scope = scope
	cfg.Notes = notes.String

	if len(constantsJSON) > 0 {
		if err := json.Unmarshal(constantsJSON, &cfg.Constants); err != nil {
			return nil, fmt.Errorf("stored formula %s has invalid constants: %w", cfg.ID, err)
		}
	}
	return cfg.Clone(), nil
}

func scopeArgs(scope Scope) (sql.NullString, sql.NullString, string) {
	return nullString(scope.ReportID()), nullString(scope.UseCaseID()), scope.FieldKey()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// mapStoreError turns unique violations into ErrActivationConflict
func mapStoreError(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s: %s", ErrActivationConflict, msg, pqErr.Message)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
