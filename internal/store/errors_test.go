package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/ecompipe/internal/core"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTransient bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, wantTransient: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, wantTransient: true},
		{name: "connection exception class", err: &pgconn.PgError{Code: "08006"}, wantTransient: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, wantTransient: true},
		{name: "too many connections", err: &pgconn.PgError{Code: "53300"}, wantTransient: true},
		{name: "net timeout", err: fmt.Errorf("read: %w", timeoutErr{}), wantTransient: true},
		{name: "message pattern", err: errors.New("dial tcp: connection refused"), wantTransient: true},

		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, wantTransient: false},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}, wantTransient: false},
		{name: "no rows", err: pgx.ErrNoRows, wantTransient: false},
		{name: "cancelled", err: context.Canceled, wantTransient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError("op", tt.err)
			if core.IsTransient(got) != tt.wantTransient {
				t.Errorf("IsTransient(ClassifyError(%v)) = %v, want %v", tt.err, !tt.wantTransient, tt.wantTransient)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error does not wrap the original")
			}
		})
	}
}

func TestClassifyError_NilAndClassified(t *testing.T) {
	if err := ClassifyError("op", nil); err != nil {
		t.Errorf("ClassifyError(nil) = %v, want nil", err)
	}

	integrity := core.Integrity("scd", errors.New("two current versions"))
	if got := ClassifyError("op", integrity); got != integrity {
		t.Errorf("classified error was rewrapped: %v", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "dim_customers_current_uq"})

	if !IsUniqueViolation(err, "") {
		t.Error("IsUniqueViolation(any constraint) = false, want true")
	}
	if !IsUniqueViolation(err, "dim_customers_current_uq") {
		t.Error("IsUniqueViolation(matching constraint) = false, want true")
	}
	if IsUniqueViolation(err, "other") {
		t.Error("IsUniqueViolation(other constraint) = true, want false")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Error("foreign key violation reported as unique violation")
	}
}
