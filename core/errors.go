package core

import "errors"

var (
	// ErrUnsupportedBiddingLanguage is returned when a bidder cannot produce
	// the requested bidding language, or an exporter cannot encode it.
	ErrUnsupportedBiddingLanguage = errors.New("unsupported bidding language")
	// ErrInvalidRank is returned when a bundle rank lies outside [0, 2^n).
	ErrInvalidRank = errors.New("invalid bundle rank")
	// ErrInfeasibleModel is returned when an optimization model has no
	// feasible solution but the caller required one.
	ErrInfeasibleModel = errors.New("infeasible model")
	// ErrSolverTimeout is returned when a solver limit was reached before
	// any incumbent was found.
	ErrSolverTimeout = errors.New("solver limit reached without solution")
	// ErrIncompatibleWorld is returned when bids or bidders from different
	// worlds are mixed.
	ErrIncompatibleWorld = errors.New("incompatible world")
	// ErrInvalidInput is returned for malformed auction inputs.
	ErrInvalidInput = errors.New("invalid input")
)
