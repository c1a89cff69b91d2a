package protocol

import (
	"fmt"
	"testing"

	"stellarcolony.ai/internal/sim/sessions"
	"stellarcolony.ai/internal/sim/simerr"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrUnauthorized,
		ErrBadRequest,
		ErrNoResource,
		ErrPrecondition,
		ErrLimit,
		ErrNotFound,
		ErrDisabled,
		ErrRateLimit,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("purchase x: %w", simerr.ErrInsufficient), ErrNoResource},
		{simerr.ErrPrecondition, ErrPrecondition},
		{simerr.ErrLimit, ErrLimit},
		{sessions.ErrTooManySessions, ErrLimit},
		{fmt.Errorf("%w: %q", simerr.ErrUnknownContract, "C1"), ErrNotFound},
		{simerr.ErrUnknownResource, ErrNotFound},
		{sessions.ErrUnknownSession, ErrNotFound},
		{simerr.ErrDisabled, ErrDisabled},
		{simerr.ErrUnknownIntentKind, ErrBadRequest},
		{sessions.ErrBadToken, ErrUnauthorized},
		{fmt.Errorf("disk on fire"), ErrInternal},
	}
	for _, c := range cases {
		got := CodeFor(c.err)
		if got != c.want {
			t.Fatalf("CodeFor(%v)=%q want %q", c.err, got, c.want)
		}
		if !IsKnownCode(got) {
			t.Fatalf("CodeFor(%v) returned unknown code %q", c.err, got)
		}
	}
}
