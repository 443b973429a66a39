package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (f *fakeTx) Execute(context.Context, string, ...any) (int64, error) { return 0, nil }
func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (f *fakeTx) BulkWrite(context.Context, string, []string, [][]any) (int64, error) {
	return 0, nil
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	tx  *fakeTx
	err error
}

func (b *fakeBeginner) Begin(context.Context) (Tx, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func TestWithTx_Commits(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	if err := WithTx(context.Background(), b, func(Tx) error { return nil }); err != nil {
		t.Fatalf("WithTx() = %v", err)
	}
	if !b.tx.committed || b.tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v, want committed only", b.tx.committed, b.tx.rolledBack)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")

	err := WithTx(context.Background(), b, func(Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() = %v, want boom", err)
	}
	if b.tx.committed || !b.tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v, want rollback only", b.tx.committed, b.tx.rolledBack)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("panic was swallowed")
		}
		if !b.tx.rolledBack {
			t.Error("transaction not rolled back after panic")
		}
	}()

	_ = WithTx(context.Background(), b, func(Tx) error { panic("kaboom") })
}

func TestWithTx_CommitError(t *testing.T) {
	commitErr := errors.New("commit failed")
	b := &fakeBeginner{tx: &fakeTx{commitErr: commitErr}}

	if err := WithTx(context.Background(), b, func(Tx) error { return nil }); !errors.Is(err, commitErr) {
		t.Errorf("WithTx() = %v, want commit error", err)
	}
}

func TestWithTx_BeginError(t *testing.T) {
	beginErr := errors.New("no connection")
	called := false

	err := WithTx(context.Background(), &fakeBeginner{err: beginErr}, func(Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, beginErr) {
		t.Errorf("WithTx() = %v, want begin error", err)
	}
	if called {
		t.Error("fn ran without a transaction")
	}
}
