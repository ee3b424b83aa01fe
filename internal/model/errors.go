package model

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the core wraps exactly one of these.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrPolicy     = errors.New("policy rejection")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrStoryNotFound   = fmt.Errorf("story %w", ErrNotFound)
	ErrBranchNotFound  = fmt.Errorf("branch %w", ErrNotFound)
	ErrSegmentNotFound = fmt.Errorf("segment %w", ErrNotFound)
	ErrBotNotFound     = fmt.Errorf("bot %w", ErrNotFound)

	ErrLengthViolation  = fmt.Errorf("%w: content length out of bounds", ErrValidation)
	ErrInvalidForkPoint = fmt.Errorf("%w: fork point does not belong to parent branch", ErrValidation)
	ErrInvalidVote      = fmt.Errorf("%w: invalid vote", ErrValidation)
	ErrInvalidTarget    = fmt.Errorf("%w: invalid vote target", ErrValidation)
	ErrInvalidStory     = fmt.Errorf("%w: invalid story", ErrValidation)

	ErrSelfVote         = fmt.Errorf("%w: cannot vote on own segment", ErrPolicy)
	ErrVoteSpam         = fmt.Errorf("%w: suspected vote spam", ErrPolicy)
	ErrNoEligibleWriter = fmt.Errorf("%w: branch has no eligible writer", ErrPolicy)
	ErrNotYourTurn      = fmt.Errorf("%w: not this bot's turn", ErrPolicy)
	ErrBotSuspended     = fmt.Errorf("%w: bot is suspended", ErrPolicy)
)

// Kind returns a stable code for the class of err, for mapping onto
// transport status codes by the calling layer.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPolicy):
		return "policy"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
