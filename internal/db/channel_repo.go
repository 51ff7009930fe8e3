package db

import (
	"context"

	"forwardgate/internal/types"
)

// ChannelRepository provides data access for the channels table.
type ChannelRepository struct {
	db DBTX
}

func NewChannelRepository(db DBTX) *ChannelRepository {
	return &ChannelRepository{db: db}
}

const channelColumns = `id, owner_id, owner_name, recipient_address, available, created_at, updated_at`

func scanChannel(row interface{ Scan(dest ...any) error }) (*types.Channel, error) {
	var ch types.Channel
	if err := row.Scan(
		&ch.ID,
		&ch.OwnerID,
		&ch.OwnerName,
		&ch.RecipientAddress,
		&ch.Available,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *ChannelRepository) Create(ctx context.Context, ch *types.Channel) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO channels (id, owner_id, owner_name, recipient_address, available)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		ch.ID,
		ch.OwnerID,
		ch.OwnerName,
		ch.RecipientAddress,
		ch.Available,
	).Scan(&ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create channel", err)
	}
	return nil
}

func (r *ChannelRepository) Get(ctx context.Context, id string) (*types.Channel, error) {
	ch, err := scanChannel(r.db.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = $1`,
		id,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get channel", err)
	}
	return ch, nil
}

func (r *ChannelRepository) ListByOwnerAndRecipient(ctx context.Context, ownerID, recipient string) ([]types.Channel, error) {
	return r.query(ctx, "failed to list channels for recipient",
		`SELECT `+channelColumns+`
		 FROM channels
		 WHERE owner_id = $1 AND recipient_address = $2
		 ORDER BY id`,
		ownerID, recipient,
	)
}

func (r *ChannelRepository) ListByRecipient(ctx context.Context, recipient string) ([]types.Channel, error) {
	return r.query(ctx, "failed to list channels for recipient",
		`SELECT `+channelColumns+`
		 FROM channels
		 WHERE recipient_address = $1
		 ORDER BY id`,
		recipient,
	)
}

func (r *ChannelRepository) SetAvailable(ctx context.Context, id string, available bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE channels SET available = $2, updated_at = NOW() WHERE id = $1`,
		id, available,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update channel availability", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
	}
	return nil
}

func (r *ChannelRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete channel", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
	}
	return nil
}

// List returns up to limit channels with id > afterID. An empty afterID
// starts from the beginning.
func (r *ChannelRepository) List(ctx context.Context, afterID string, limit int) ([]types.Channel, error) {
	return r.query(ctx, "failed to list channels",
		`SELECT `+channelColumns+`
		 FROM channels
		 WHERE id > $1
		 ORDER BY id
		 LIMIT $2`,
		afterID, limit,
	)
}

func (r *ChannelRepository) query(ctx context.Context, failMsg, sql string, args ...any) ([]types.Channel, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, failMsg, err)
	}
	defer rows.Close()

	var out []types.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan channel row", err)
		}
		out = append(out, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating channel rows", err)
	}
	return out, nil
}
