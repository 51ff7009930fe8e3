package types

import (
	"context"
	"time"
)

// Logger defines the structured logging interface used by domain packages.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system time in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// VerificationRepository persists VerificationRecords. Records are never
// deleted; only the mode of a pending record ever changes.
type VerificationRepository interface {
	// ListByRecipient returns every record for the recipient across all
	// senders, oldest first.
	ListByRecipient(ctx context.Context, recipient string) ([]VerificationRecord, error)
	// FindByNonce returns ErrCodeNotFoundVerification when no record matches.
	FindByNonce(ctx context.Context, nonce string) (*VerificationRecord, error)
	Create(ctx context.Context, rec *VerificationRecord) error
	// UpdateMode performs the compare-and-set from -> to.
	UpdateMode(ctx context.Context, id string, from, to ConsentMode) error
}

// ChannelRepository persists Channels.
type ChannelRepository interface {
	Create(ctx context.Context, ch *Channel) error
	// Get returns ErrCodeNotFoundChannel when the channel does not exist.
	Get(ctx context.Context, id string) (*Channel, error)
	ListByOwnerAndRecipient(ctx context.Context, ownerID, recipient string) ([]Channel, error)
	// ListByRecipient returns channels from every owner to the recipient.
	ListByRecipient(ctx context.Context, recipient string) ([]Channel, error)
	SetAvailable(ctx context.Context, id string, available bool) error
	Delete(ctx context.Context, id string) error
	// List pages through all channels ordered by id, starting after afterID.
	List(ctx context.Context, afterID string, limit int) ([]Channel, error)
}

// RepositoryRegistry provides repositories bound to one transaction.
type RepositoryRegistry interface {
	Verifications() VerificationRepository
	Channels() ChannelRepository
}

// TransactionManager runs fn in a transaction that holds an exclusive lock on
// lockKey until commit or rollback. Work for the same key never interleaves.
type TransactionManager interface {
	RunInTx(ctx context.Context, lockKey string, fn func(ctx context.Context, repos RepositoryRegistry) error) error
}
