package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrProtoVersion,
		ErrMatchNotFound,
		ErrMatchClosed,
		ErrBadRequest,
		ErrUnknownAction,
		ErrDomainNotFound,
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

func TestNewErrorIsKnown(t *testing.T) {
	m := NewError(ErrRateLimit, "slow down")
	if m.Type != TypeError || !IsKnownCode(m.Code) {
		t.Fatalf("unexpected error message: %+v", m)
	}
}
