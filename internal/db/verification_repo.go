package db

import (
	"context"

	"forwardgate/internal/types"
)

// VerificationRepository provides data access for the verifications table.
type VerificationRepository struct {
	db DBTX
}

func NewVerificationRepository(db DBTX) *VerificationRepository {
	return &VerificationRepository{db: db}
}

const verificationColumns = `id, recipient_address, sender_id, nonce, mode, created_at, updated_at`

func scanVerification(row interface{ Scan(dest ...any) error }) (*types.VerificationRecord, error) {
	var (
		rec  types.VerificationRecord
		mode string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.RecipientAddress,
		&rec.SenderID,
		&rec.Nonce,
		&mode,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Mode = types.ConsentMode(mode)
	return &rec, nil
}

// ListByRecipient returns every record for the recipient across all senders.
// Precedence evaluation needs the full set, so no sender filter is applied.
func (r *VerificationRepository) ListByRecipient(ctx context.Context, recipient string) ([]types.VerificationRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+verificationColumns+`
		 FROM verifications
		 WHERE recipient_address = $1
		 ORDER BY created_at, id`,
		recipient,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list verifications", err)
	}
	defer rows.Close()

	var out []types.VerificationRecord
	for rows.Next() {
		rec, err := scanVerification(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan verification row", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating verification rows", err)
	}
	return out, nil
}

func (r *VerificationRepository) FindByNonce(ctx context.Context, nonce string) (*types.VerificationRecord, error) {
	rec, err := scanVerification(r.db.QueryRow(ctx,
		`SELECT `+verificationColumns+`
		 FROM verifications
		 WHERE nonce = $1`,
		nonce,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundVerification, "verification not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find verification", err)
	}
	return rec, nil
}

// Create inserts a record. The caller assigns ID and Nonce; timestamps come
// back from the database.
func (r *VerificationRepository) Create(ctx context.Context, rec *types.VerificationRecord) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO verifications (id, recipient_address, sender_id, nonce, mode)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		rec.ID,
		rec.RecipientAddress,
		rec.SenderID,
		rec.Nonce,
		string(rec.Mode),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create verification", err)
	}
	return nil
}

// UpdateMode moves a record from one mode to another. Zero affected rows means
// the record was not in the expected mode.
func (r *VerificationRepository) UpdateMode(ctx context.Context, id string, from, to types.ConsentMode) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE verifications
		 SET mode = $3, updated_at = NOW()
		 WHERE id = $1 AND mode = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update verification mode", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "verification is no longer "+string(from), nil)
	}
	return nil
}
