package giveaway

import "errors"

var (
	// ErrInvalidAmount is returned when a ledger amount is NaN or infinite.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrNotOpen is returned by Stop when no round is accepting entries.
	ErrNotOpen = errors.New("giveaway not open")
	// ErrNoWinnerToConfirm is returned by Confirm when neither an explicit winner
	// nor a pending winner is available.
	ErrNoWinnerToConfirm = errors.New("no winner to confirm")
	// ErrEmptyKeyword is returned by Start for a blank keyword.
	ErrEmptyKeyword = errors.New("empty keyword")
)
