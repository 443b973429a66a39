package core

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error. The controller decides retry, halt or
// continue from the kind alone.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientStore
	KindConfiguration
	KindQualityGate
	KindRowRepair
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindTransientStore:
		return "transient_store_error"
	case KindConfiguration:
		return "configuration_error"
	case KindQualityGate:
		return "quality_gate_failure"
	case KindRowRepair:
		return "row_repair_failure"
	case KindIntegrity:
		return "integrity_violation"
	default:
		return "unknown_error"
	}
}

// Retryable reports whether a stage failing with this kind may be retried.
func (k Kind) Retryable() bool { return k == KindTransientStore }

// Fatal reports whether this kind halts the run. Unclassified errors are fatal.
func (k Kind) Fatal() bool {
	switch k {
	case KindQualityGate, KindRowRepair:
		return false
	default:
		return true
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "scd.apply dim_customers"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation. A nil err yields nil.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient marks err as a retryable store failure.
func Transient(op string, err error) error { return NewError(KindTransientStore, op, err) }

// Configuration marks err as a deployment defect.
func Configuration(op string, err error) error { return NewError(KindConfiguration, op, err) }

// Integrity marks err as a broken invariant.
func Integrity(op string, err error) error { return NewError(KindIntegrity, op, err) }

// RowRepair marks err as an unrecoverable row.
func RowRepair(op string, err error) error { return NewError(KindRowRepair, op, err) }

// QualityGate marks err as a failed quality gate.
func QualityGate(op string, err error) error { return NewError(KindQualityGate, op, err) }

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool { return KindOf(err) == KindTransientStore }
