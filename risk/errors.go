package risk

import (
	"errors"

	"github.com/rustyeddy/intraday/market"
)

var (
	// ErrPolicyViolation: an open would breach a position, margin or loss limit.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrInvalidConfiguration: a policy value is out of range. Policies are
	// never clamped into range.
	ErrInvalidConfiguration = market.ErrInvalidConfiguration
	// ErrArithmeticDegenerate: prices or distances that would divide by zero
	// or produce an unbounded ratio.
	ErrArithmeticDegenerate = errors.New("arithmetic degenerate")
)
