// Package simerr holds the rejection reasons shared by every simulation component.
//
// Player intents never panic or partially apply; a rejected intent returns one of
// these sentinels (usually wrapped with detail) and leaves state untouched.
package simerr

import "errors"

var (
	ErrInsufficient      = errors.New("rejected: insufficient resources")
	ErrPrecondition      = errors.New("rejected: precondition not met")
	ErrLimit             = errors.New("rejected: limit reached")
	ErrUnknownResource   = errors.New("unknown resource")
	ErrUnknownStructure  = errors.New("unknown structure")
	ErrUnknownContract   = errors.New("unknown contract")
	ErrDisabled          = errors.New("subsystem not enabled for this variant")
	ErrUnknownIntentKind = errors.New("unknown intent kind")
)

// IsRejection reports whether err is one of the player-facing rejection reasons.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrInsufficient, ErrPrecondition, ErrLimit,
		ErrUnknownResource, ErrUnknownStructure, ErrUnknownContract,
		ErrDisabled, ErrUnknownIntentKind,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
