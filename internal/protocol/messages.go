package protocol

import "encoding/json"

// BEGIN (client -> server). A missing campaign id gets a generated one.
type BeginMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	ReqID           string             `json:"req_id,omitempty"`
	CampaignID      string             `json:"campaign_id,omitempty"`
	Seed            int64              `json:"seed"`
	Start           map[string]float64 `json:"start,omitempty"`
}

// LIST_ACTIONS, SAVE and STATE requests carry no payload.
type EmptyMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
}

// APPLY_ACTION (client -> server)
type ApplyActionMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id,omitempty"`
	Action          string  `json:"action"`
	Quantity        float64 `json:"quantity,omitempty"`
}

// END_DAY (client -> server). Choices overrides the default alternative of
// events by id.
type EndDayMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ReqID           string            `json:"req_id,omitempty"`
	Choices         map[string]string `json:"choices,omitempty"`
}

// LOAD (client -> server). Either Save holds a full save record, or
// CampaignID names a campaign whose newest stored save is resumed.
type LoadMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	CampaignID      string          `json:"campaign_id,omitempty"`
	Save            json.RawMessage `json:"save,omitempty"`
}

// STATE (server -> client)
type StateMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	ReqID           string             `json:"req_id,omitempty"`
	CampaignID      string             `json:"campaign_id"`
	Seed            int64              `json:"seed"`
	Day             int                `json:"day"`
	Remaining       int                `json:"remaining"`
	Metrics         map[string]float64 `json:"metrics"`
	Pending         int                `json:"pending"`
	Terminal        string             `json:"terminal,omitempty"`
	Digest          string             `json:"digest"`
	ConfigDigest    string             `json:"config_digest,omitempty"`
}

// ACTIONS (server -> client). Payload is the kernel's action list.
type ActionsMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	Day             int             `json:"day"`
	Remaining       int             `json:"remaining"`
	Actions         json.RawMessage `json:"actions"`
}

// TURN (server -> client). Report is the action outcome report.
type TurnMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	Report          json.RawMessage `json:"report"`
}

// DAY (server -> client). Report is the end-of-day report.
type DayMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	Report          json.RawMessage `json:"report"`
}

// SAVED (server -> client). Path is empty when the server keeps no store.
type SavedMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ReqID           string          `json:"req_id,omitempty"`
	Path            string          `json:"path,omitempty"`
	Digest          string          `json:"digest"`
	Save            json.RawMessage `json:"save"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(reqID, code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, ReqID: reqID, Code: code, Message: message}
}
