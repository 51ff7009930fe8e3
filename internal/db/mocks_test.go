package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// mockRows yields pre-built rows through per-row scan functions.
type mockRows struct {
	rows    []func(dest ...any) error
	idx     int
	closed  bool
	iterErr error
}

func (r *mockRows) Next() bool {
	if r.closed || r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error                       { return r.rows[r.idx-1](dest...) }
func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.iterErr }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

var testTime = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func verificationScan(id, recipient, sender, nonce, mode string) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = recipient
		*dest[2].(*string) = sender
		*dest[3].(*string) = nonce
		*dest[4].(*string) = mode
		*dest[5].(*time.Time) = testTime
		*dest[6].(*time.Time) = testTime
		return nil
	}
}

func channelScan(id, owner, recipient string, available bool) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = owner
		*dest[2].(*string) = ""
		*dest[3].(*string) = recipient
		*dest[4].(*bool) = available
		*dest[5].(*time.Time) = testTime
		*dest[6].(*time.Time) = testTime
		return nil
	}
}
