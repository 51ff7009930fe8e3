package db

import (
	"context"
	"maps"
	"sort"
	"sync"

	"forwardgate/internal/types"
)

// MemoryStore is an in-process implementation of the repository and
// transaction contracts. It serializes RunInTx per lock key with a keyed
// mutex. Writes made inside a transaction are staged on the transaction and
// reach the shared maps only when fn returns nil, so other callers never see
// uncommitted state. It backs local runs (DATABASE_URL=memory://) and tests.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
	locks keyedMutex
	clock types.Clock
}

// MemoryDSN selects MemoryStore instead of PostgreSQL.
const MemoryDSN = "memory://"

func NewMemoryStore(clock types.Clock) *MemoryStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryStore{
		state: memState{
			verifications: make(map[string]types.VerificationRecord),
			channels:      make(map[string]types.Channel),
		},
		locks: keyedMutex{locks: make(map[string]*refLock)},
		clock: clock,
	}
}

// Verifications returns a repository operating outside any transaction.
func (s *MemoryStore) Verifications() types.VerificationRepository {
	return &memVerifications{store: s}
}

// Channels returns a repository operating outside any transaction.
func (s *MemoryStore) Channels() types.ChannelRepository {
	return &memChannels{store: s}
}

// RunInTx runs fn under the lock for lockKey. Staged writes are applied
// atomically once fn succeeds; if one of them no longer applies the whole
// transaction is discarded and its error returned.
func (s *MemoryStore) RunInTx(ctx context.Context, lockKey string, fn func(ctx context.Context, repos types.RepositoryRegistry) error) error {
	if lockKey != "" {
		unlock := s.locks.lock(lockKey)
		defer unlock()
	}

	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// Ping satisfies the health probe contract.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// write applies op directly outside a transaction. Inside one, op is checked
// against the transaction's view and staged. Callers hold s.mu.
func (s *MemoryStore) write(tx *memTx, op memOp) error {
	if tx == nil {
		_, err := op(s.state)
		return err
	}
	if _, err := op(tx.replay()); err != nil {
		return err
	}
	tx.ops = append(tx.ops, op)
	return nil
}

type memState struct {
	verifications map[string]types.VerificationRecord
	channels      map[string]types.Channel
}

func (st memState) clone() memState {
	return memState{
		verifications: maps.Clone(st.verifications),
		channels:      maps.Clone(st.channels),
	}
}

// memOp validates one write against st and applies it, returning how to
// undo it. Ops must be deterministic: a staged op runs once per read of the
// transaction's view and once more at commit.
type memOp func(st memState) (undo func(), err error)

type memTx struct {
	store *MemoryStore
	ops   []memOp
}

func (t *memTx) Verifications() types.VerificationRepository {
	return &memVerifications{store: t.store, tx: t}
}

func (t *memTx) Channels() types.ChannelRepository {
	return &memChannels{store: t.store, tx: t}
}

// view returns the state this transaction reads: committed state with its
// own writes replayed on top. Callers hold store.mu.
func (t *memTx) view() memState {
	if len(t.ops) == 0 {
		return t.store.state
	}
	return t.replay()
}

// replay applies the staged writes to a private copy of committed state.
func (t *memTx) replay() memState {
	st := t.store.state.clone()
	for _, op := range t.ops {
		_, _ = op(st)
	}
	return st
}

func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	undo := make([]func(), 0, len(t.ops))
	for _, op := range t.ops {
		u, err := op(s.state)
		if err != nil {
			for i := len(undo) - 1; i >= 0; i-- {
				undo[i]()
			}
			return err
		}
		undo = append(undo, u)
	}
	return nil
}

// read returns the state visible to tx. Callers hold store.mu.
func read(s *MemoryStore, tx *memTx) memState {
	if tx == nil {
		return s.state
	}
	return tx.view()
}

type memVerifications struct {
	store *MemoryStore
	tx    *memTx
}

func (r *memVerifications) ListByRecipient(_ context.Context, recipient string) ([]types.VerificationRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []types.VerificationRecord
	for _, rec := range read(r.store, r.tx).verifications {
		if rec.RecipientAddress == recipient {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memVerifications) FindByNonce(_ context.Context, nonce string) (*types.VerificationRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, rec := range read(r.store, r.tx).verifications {
		if rec.Nonce == nonce {
			found := rec
			return &found, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundVerification, "verification not found", nil)
}

func (r *memVerifications) Create(_ context.Context, rec *types.VerificationRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	staged := *rec
	staged.CreatedAt = r.store.clock.Now()
	staged.UpdatedAt = staged.CreatedAt
	err := r.store.write(r.tx, func(st memState) (func(), error) {
		if _, exists := st.verifications[staged.ID]; exists {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create verification", nil)
		}
		for _, other := range st.verifications {
			if other.Nonce == staged.Nonce {
				return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create verification", nil)
			}
		}
		st.verifications[staged.ID] = staged
		return func() { delete(st.verifications, staged.ID) }, nil
	})
	if err != nil {
		return err
	}
	rec.CreatedAt, rec.UpdatedAt = staged.CreatedAt, staged.UpdatedAt
	return nil
}

func (r *memVerifications) UpdateMode(_ context.Context, id string, from, to types.ConsentMode) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.clock.Now()
	return r.store.write(r.tx, func(st memState) (func(), error) {
		prev, ok := st.verifications[id]
		if !ok || prev.Mode != from {
			return nil, types.NewAppError(types.ErrCodeConflictConcurrent, "verification is no longer "+string(from), nil)
		}
		rec := prev
		rec.Mode = to
		rec.UpdatedAt = now
		st.verifications[id] = rec
		return func() { st.verifications[id] = prev }, nil
	})
}

type memChannels struct {
	store *MemoryStore
	tx    *memTx
}

func (r *memChannels) Create(_ context.Context, ch *types.Channel) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	staged := *ch
	staged.CreatedAt = r.store.clock.Now()
	staged.UpdatedAt = staged.CreatedAt
	err := r.store.write(r.tx, func(st memState) (func(), error) {
		if _, exists := st.channels[staged.ID]; exists {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create channel", nil)
		}
		st.channels[staged.ID] = staged
		return func() { delete(st.channels, staged.ID) }, nil
	})
	if err != nil {
		return err
	}
	ch.CreatedAt, ch.UpdatedAt = staged.CreatedAt, staged.UpdatedAt
	return nil
}

func (r *memChannels) Get(_ context.Context, id string) (*types.Channel, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	ch, ok := read(r.store, r.tx).channels[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
	}
	return &ch, nil
}

func (r *memChannels) ListByOwnerAndRecipient(_ context.Context, ownerID, recipient string) ([]types.Channel, error) {
	return r.filter(func(ch types.Channel) bool {
		return ch.OwnerID == ownerID && ch.RecipientAddress == recipient
	}, 0), nil
}

func (r *memChannels) ListByRecipient(_ context.Context, recipient string) ([]types.Channel, error) {
	return r.filter(func(ch types.Channel) bool { return ch.RecipientAddress == recipient }, 0), nil
}

func (r *memChannels) SetAvailable(_ context.Context, id string, available bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.clock.Now()
	return r.store.write(r.tx, func(st memState) (func(), error) {
		prev, ok := st.channels[id]
		if !ok {
			return nil, types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
		}
		ch := prev
		ch.Available = available
		ch.UpdatedAt = now
		st.channels[id] = ch
		return func() { st.channels[id] = prev }, nil
	})
}

func (r *memChannels) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(r.tx, func(st memState) (func(), error) {
		prev, ok := st.channels[id]
		if !ok {
			return nil, types.NewAppError(types.ErrCodeNotFoundChannel, "channel not found", nil)
		}
		delete(st.channels, id)
		return func() { st.channels[id] = prev }, nil
	})
}

func (r *memChannels) List(_ context.Context, afterID string, limit int) ([]types.Channel, error) {
	return r.filter(func(ch types.Channel) bool { return ch.ID > afterID }, limit), nil
}

func (r *memChannels) filter(keep func(types.Channel) bool, limit int) []types.Channel {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []types.Channel
	for _, ch := range read(r.store, r.tx).channels {
		if keep(ch) {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
