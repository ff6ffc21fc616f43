package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseSubscribeParamsEmpty(t *testing.T) {
	params, err := ParseSubscribeParams(json.RawMessage(`[]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.UserAgent != "" {
		t.Errorf("expected empty user agent, got %q", params.UserAgent)
	}
}

func TestParseSubscribeParamsWithUserAgent(t *testing.T) {
	params, err := ParseSubscribeParams(json.RawMessage(`["cpuminer/2.5.1"]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.UserAgent != "cpuminer/2.5.1" {
		t.Errorf("UserAgent = %q, want cpuminer/2.5.1", params.UserAgent)
	}
}

func TestParseAuthorizeParams(t *testing.T) {
	params, err := ParseAuthorizeParams(json.RawMessage(`["worker1.rig1","x"]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Username != "worker1.rig1" || params.Password != "x" {
		t.Errorf("got %+v", params)
	}
}

func TestParseSubmitParamsTooFew(t *testing.T) {
	_, err := ParseSubmitParams(json.RawMessage(`["worker1","job1"]`))
	if err != ErrInvalidParamsError {
		t.Errorf("expected ErrInvalidParamsError, got %v", err)
	}
}

func TestParseSubmitParamsValid(t *testing.T) {
	params, err := ParseSubmitParams(json.RawMessage(`["worker1","job1","aabbccdd","5f3a2b1c","01020304"]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.WorkerName != "worker1" || params.JobID != "job1" || params.Extranonce2 != "aabbccdd" {
		t.Errorf("got %+v", params)
	}
}

func TestStratumErrorToJSON(t *testing.T) {
	err := NewError(ErrLowDifficultyShare, "low difficulty share")
	got := err.ToJSON()
	if len(got) != 3 || got[0] != ErrLowDifficultyShare || got[1] != "low difficulty share" {
		t.Errorf("ToJSON() = %v", got)
	}
}
