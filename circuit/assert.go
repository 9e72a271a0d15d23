package circuit

import (
	"context"
	"errors"
	"testing"
)

// Assert bundles the check helpers tests of this and downstream packages
// use against an assembled system.
type Assert struct {
	t *testing.T
}

func NewAssert(t *testing.T) *Assert {
	return &Assert{t: t}
}

// CheckSucceeded fails the test unless every argument of the system holds.
func (a *Assert) CheckSucceeded(s *System) {
	a.t.Helper()
	if err := s.Check(context.Background()); err != nil {
		a.t.Fatalf("check should succeed: %v", err)
	}
}

// CheckFailed fails the test unless the check reports an unsatisfied
// constraint, lookup or argument.
func (a *Assert) CheckFailed(s *System) *UnsatisfiedError {
	a.t.Helper()
	err := s.Check(context.Background())
	if err == nil {
		a.t.Fatal("check should fail")
	}
	var unsat *UnsatisfiedError
	if !errors.As(err, &unsat) {
		a.t.Fatalf("check failed with %v, not an unsatisfied argument", err)
	}
	return unsat
}
