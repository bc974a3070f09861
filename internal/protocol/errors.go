package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Match routing/state.
	ErrMatchNotFound = "E_MATCH_NOT_FOUND"
	ErrMatchClosed   = "E_MATCH_CLOSED"

	// Action layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrUnknownAction  = "E_UNKNOWN_ACTION"
	ErrDomainNotFound = "E_DOMAIN_NOT_FOUND"
	ErrRateLimit      = "E_RATE_LIMIT"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrMatchNotFound:   {},
	ErrMatchClosed:     {},
	ErrBadRequest:      {},
	ErrUnknownAction:   {},
	ErrDomainNotFound:  {},
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

// NewError builds an ERROR message.
func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
