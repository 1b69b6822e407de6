package repo

import (
	"context"
	"database/sql"
	"errors"
	"shipping-escrow/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type SettingsRepo interface {
	// OracleDetails returns nil, nil until details have been saved once.
	OracleDetails(ctx context.Context) (*domain.OracleDetails, error)
	SaveOracleDetails(ctx context.Context, details domain.OracleDetails) error
}

type settingsRepo struct {
	db *sql.DB
}

func NewSettingsRepo(db *sql.DB) SettingsRepo {
	return &settingsRepo{db: db}
}

func (r *settingsRepo) OracleDetails(ctx context.Context) (*domain.OracleDetails, error) {
	var (
		d         domain.OracleDetails
		oracle    string
		reference string
	)
	err := executor(ctx, r.db).QueryRowContext(ctx,
		`SELECT oracle, reference, job_id, fee, updated_at FROM oracle_settings WHERE id = 1`,
	).Scan(&oracle, &reference, &d.JobID, &d.Fee, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Oracle = common.HexToAddress(oracle)
	d.Reference = common.HexToAddress(reference)
	return &d, nil
}

func (r *settingsRepo) SaveOracleDetails(ctx context.Context, d domain.OracleDetails) error {
	_, err := executor(ctx, r.db).ExecContext(ctx, `
		INSERT INTO oracle_settings (id, oracle, reference, job_id, fee, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET oracle = EXCLUDED.oracle,
		    reference = EXCLUDED.reference,
		    job_id = EXCLUDED.job_id,
		    fee = EXCLUDED.fee,
		    updated_at = EXCLUDED.updated_at
	`, d.Oracle.Hex(), d.Reference.Hex(), d.JobID, d.Fee, d.UpdatedAt)
	return err
}
