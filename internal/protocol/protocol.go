// Package protocol defines the JSON messages exchanged with a campaign over a
// websocket connection.
package protocol

import "encoding/json"

const Version = "1.0"

// Client -> server message types.
const (
	TypeBegin       = "BEGIN"
	TypeListActions = "LIST_ACTIONS"
	TypeApplyAction = "APPLY_ACTION"
	TypeEndDay      = "END_DAY"
	TypeSave        = "SAVE"
	TypeLoad        = "LOAD"
	TypeState       = "STATE"
)

// Server -> client message types. STATE is sent in both directions.
const (
	TypeActions = "ACTIONS"
	TypeTurn    = "TURN"
	TypeDay     = "DAY"
	TypeSaved   = "SAVED"
	TypeError   = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
