package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Fleet routing/state.
	ErrFleetBusy   = "E_FLEET_BUSY"
	ErrUnknownShip = "E_UNKNOWN_SHIP"

	// Task layer.
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrUnknownKind = "E_UNKNOWN_KIND"
	ErrNoBlock     = "E_NO_BLOCK"
	ErrRejected    = "E_REJECTED"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrFleetBusy:       {},
	ErrUnknownShip:     {},
	ErrBadRequest:      {},
	ErrUnknownKind:     {},
	ErrNoBlock:         {},
	ErrRejected:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
