package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Session routing/state.
	ErrSessionBusy = "E_SESSION_BUSY"
	ErrStale       = "E_STALE"

	// Action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrWalletLocked  = "E_WALLET_LOCKED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrSessionBusy:     {},
	ErrStale:           {},
	ErrBadRequest:      {},
	ErrRateLimit:       {},
	ErrInvalidTarget:   {},
	ErrWalletLocked:    {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
