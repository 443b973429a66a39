package store

import (
	"context"
	"fmt"
)

// Beginner starts transactions. *PgStore satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back when fn returns an error or panics; a panic is re-raised after
// the rollback.
func WithTx(ctx context.Context, b Beginner, fn func(tx Tx) error) (err error) {
	tx, err := b.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
