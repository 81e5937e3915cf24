package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Session/role.
	ErrNotHost     = "E_NOT_HOST"
	ErrSessionBusy = "E_SESSION_BUSY"

	// Payload layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrUnknownObj = "E_UNKNOWN_OBJECTIVE"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrNotHost:         {},
	ErrSessionBusy:     {},
	ErrBadRequest:      {},
	ErrUnknownObj:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
