package protocol

import (
	"errors"

	"stellarcolony.ai/internal/sim/sessions"
	"stellarcolony.ai/internal/sim/simerr"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrUnauthorized    = "E_UNAUTHORIZED"

	// Intent layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNoResource   = "E_NO_RESOURCE"
	ErrPrecondition = "E_PRECONDITION"
	ErrLimit        = "E_LIMIT"
	ErrNotFound     = "E_NOT_FOUND"
	ErrDisabled     = "E_DISABLED"
	ErrRateLimit    = "E_RATE_LIMIT"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrUnauthorized:    {},
	ErrBadRequest:      {},
	ErrNoResource:      {},
	ErrPrecondition:    {},
	ErrLimit:           {},
	ErrNotFound:        {},
	ErrDisabled:        {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeFor maps a rejection or session error to its wire code. nil maps to "".
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, simerr.ErrInsufficient):
		return ErrNoResource
	case errors.Is(err, simerr.ErrPrecondition):
		return ErrPrecondition
	case errors.Is(err, simerr.ErrLimit), errors.Is(err, sessions.ErrTooManySessions):
		return ErrLimit
	case errors.Is(err, simerr.ErrUnknownResource),
		errors.Is(err, simerr.ErrUnknownStructure),
		errors.Is(err, simerr.ErrUnknownContract),
		errors.Is(err, sessions.ErrUnknownSession),
		errors.Is(err, sessions.ErrUnknownVariant):
		return ErrNotFound
	case errors.Is(err, simerr.ErrDisabled):
		return ErrDisabled
	case errors.Is(err, simerr.ErrUnknownIntentKind):
		return ErrBadRequest
	case errors.Is(err, sessions.ErrBadToken):
		return ErrUnauthorized
	default:
		return ErrInternal
	}
}
