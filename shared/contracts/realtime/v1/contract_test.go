package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "ok", env: Envelope{V: Version, Type: TypeCaptureStart}},
		{name: "missing version", env: Envelope{Type: TypeHello}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeHello}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "message_edit"}, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestEnvelopeDecode(t *testing.T) {
	t.Parallel()

	var mic CaptureMicPayload
	if err := (Envelope{}).Decode(&mic); err != nil || mic.Granted {
		t.Fatalf("empty payload: %+v err=%v", mic, err)
	}

	raw, _ := json.Marshal(CaptureMicPayload{Granted: true})
	if err := (Envelope{Payload: raw}).Decode(&mic); err != nil || !mic.Granted {
		t.Fatalf("decode: %+v err=%v", mic, err)
	}

	if err := (Envelope{Payload: json.RawMessage(`{"granted":`)}).Decode(&mic); err == nil {
		t.Fatalf("expected error for truncated payload")
	}

	env := Envelope{V: Version, Type: TypeHello, TS: time.Now().UTC()}
	b, _ := json.Marshal(env)
	var back Envelope
	if err := json.Unmarshal(b, &back); err != nil || back.Validate() != nil {
		t.Fatalf("round trip failed: %v", err)
	}
}
