package protocol

import (
	"encoding/json"
	"testing"
)

func TestValidateRequest(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		ok   bool
	}{
		{"begin", `{"type":"BEGIN","protocol_version":"1.0","seed":42,"start":{"Money":3000}}`, true},
		{"begin without seed", `{"type":"BEGIN","protocol_version":"1.0"}`, false},
		{"begin bad id", `{"type":"BEGIN","protocol_version":"1.0","seed":1,"campaign_id":"../x"}`, false},
		{"list", `{"type":"LIST_ACTIONS","protocol_version":"1.0","req_id":"r1"}`, true},
		{"apply", `{"type":"APPLY_ACTION","protocol_version":"1.0","action":"restock","quantity":2}`, true},
		{"apply negative", `{"type":"APPLY_ACTION","protocol_version":"1.0","action":"restock","quantity":-1}`, false},
		{"apply no action", `{"type":"APPLY_ACTION","protocol_version":"1.0"}`, false},
		{"end day", `{"type":"END_DAY","protocol_version":"1.0","choices":{"health_inspection":"bribe"}}`, true},
		{"load by id", `{"type":"LOAD","protocol_version":"1.0","campaign_id":"c1"}`, true},
		{"load record", `{"type":"LOAD","protocol_version":"1.0","save":{"version":1}}`, true},
		{"load both", `{"type":"LOAD","protocol_version":"1.0","campaign_id":"c1","save":{}}`, false},
		{"load neither", `{"type":"LOAD","protocol_version":"1.0"}`, false},
		{"unknown", `{"type":"TURN","protocol_version":"1.0"}`, false},
		{"not json", `{`, false},
	}
	for _, tc := range cases {
		_, err := ValidateRequest([]byte(tc.msg))
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err=%v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestNewError(t *testing.T) {
	b, err := json.Marshal(NewError("r9", ErrBudgetExhausted, "no slots"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	base, err := DecodeBase(b)
	if err != nil || base.Type != TypeError || base.ReqID != "r9" || base.ProtocolVersion != Version {
		t.Fatalf("base %+v %v", base, err)
	}
}
