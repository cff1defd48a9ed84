package relation

import (
	"errors"
	"fmt"
)

var (
	// ErrRestriction matches every *RestrictionError.
	ErrRestriction = errors.New("restriction error")
	// ErrMissing matches every *MissingError.
	ErrMissing = errors.New("missing data")
)

// RestrictionError reports a handle that does not denote the required
// number of records.
type RestrictionError struct {
	Relation string
	Count    int
	// Reason overrides the default message when set.
	Reason string
}

func (e *RestrictionError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s must be restricted to a single row, found %d", e.Relation, e.Count)
}

// Is reports whether target is ErrRestriction.
func (e *RestrictionError) Is(target error) bool {
	return target == ErrRestriction
}

// MissingError reports tuples that are required but absent.
type MissingError struct {
	Relation string
	Reason   string
}

func (e *MissingError) Error() string {
	switch {
	case e.Reason != "" && e.Relation != "":
		return fmt.Sprintf("%s: %s", e.Relation, e.Reason)
	case e.Reason != "":
		return e.Reason
	case e.Relation != "":
		return fmt.Sprintf("%s: missing data", e.Relation)
	default:
		return ErrMissing.Error()
	}
}

// Is reports whether target is ErrMissing.
func (e *MissingError) Is(target error) bool {
	return target == ErrMissing
}
