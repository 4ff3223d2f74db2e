package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Session state.
	ErrNoCampaign = "E_NO_CAMPAIGN"
	ErrTerminal   = "E_TERMINAL"

	// Kernel error taxonomy.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrUnknownAction   = "E_UNKNOWN_ACTION"
	ErrActionLocked    = "E_ACTION_LOCKED"
	ErrBudgetExhausted = "E_BUDGET_EXHAUSTED"
	ErrMetric          = "E_METRIC"
	ErrCascade         = "E_CASCADE"
	ErrConfig          = "E_CONFIG"
	ErrSave            = "E_SAVE"
	ErrLoad            = "E_LOAD"
	ErrNotFound        = "E_NOT_FOUND"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrNoCampaign:      {},
	ErrTerminal:        {},
	ErrBadRequest:      {},
	ErrUnknownAction:   {},
	ErrActionLocked:    {},
	ErrBudgetExhausted: {},
	ErrMetric:          {},
	ErrCascade:         {},
	ErrConfig:          {},
	ErrSave:            {},
	ErrLoad:            {},
	ErrNotFound:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
