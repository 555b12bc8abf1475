package validation

import (
	"encoding/json"
	"testing"

	"frameworks/api_signaling/pkg/api/lookout"
)

func TestValidateStartMonitoring(t *testing.T) {
	cases := []struct {
		name string
		data string
		ok   bool
	}{
		{"valid", `{"producerId":"kiosk-1"}`, true},
		{"missing producerId", `{}`, false},
		{"empty producerId", `{"producerId":""}`, false},
		{"null data", `null`, false},
		{"malformed", `{"producerId"`, false},
	}
	v := NewMessageValidator()
	for _, tc := range cases {
		payload, err := v.ValidateStartMonitoring(json.RawMessage(tc.data))
		if tc.ok && err != nil {
			t.Fatalf("%s unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s expected error", tc.name)
		}
		if tc.ok && payload.ProducerID != "kiosk-1" {
			t.Fatalf("%s wrong producerId: %q", tc.name, payload.ProducerID)
		}
	}
}

func TestValidateStopMonitoringMissingData(t *testing.T) {
	v := NewMessageValidator()
	if _, err := v.ValidateStopMonitoring(nil); err == nil {
		t.Fatal("expected error for absent data")
	}
}

func TestValidateSignal(t *testing.T) {
	cases := []struct {
		name        string
		messageType string
		data        string
		ok          bool
	}{
		{"offer ok", lookout.TypeOffer, `{"targetId":"viewer-1","offer":{"type":"offer","sdp":"v=0"}}`, true},
		{"answer ok", lookout.TypeAnswer, `{"targetId":"kiosk-1","answer":{"type":"answer","sdp":"v=0"}}`, true},
		{"candidate ok", lookout.TypeIceCandidate, `{"targetId":"kiosk-1","candidate":{"candidate":"candidate:1"}}`, true},
		{"offer missing targetId", lookout.TypeOffer, `{"offer":{"sdp":"v=0"}}`, false},
		{"offer missing blob", lookout.TypeOffer, `{"targetId":"viewer-1"}`, false},
		{"offer null blob", lookout.TypeOffer, `{"targetId":"viewer-1","offer":null}`, false},
		{"offer with only answer blob", lookout.TypeOffer, `{"targetId":"viewer-1","answer":{"sdp":"v=0"}}`, false},
		{"candidate missing blob", lookout.TypeIceCandidate, `{"targetId":"kiosk-1"}`, false},
	}
	v := NewMessageValidator()
	for _, tc := range cases {
		payload, err := v.ValidateSignal(tc.messageType, json.RawMessage(tc.data))
		if tc.ok && err != nil {
			t.Fatalf("%s unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s expected error", tc.name)
		}
		if tc.ok && !present(payload.Blob(tc.messageType)) {
			t.Fatalf("%s blob not surfaced", tc.name)
		}
	}
}

func TestValidateCrewEvent(t *testing.T) {
	cases := []struct {
		name string
		data string
		ok   bool
	}{
		{"valid", `{"employeeId":"emp-42","name":"R. Ames"}`, true},
		{"valid with spoofed producer", `{"employeeId":"emp-42","name":"R. Ames","producerId":"kiosk-999"}`, true},
		{"missing name", `{"employeeId":"emp-42"}`, false},
		{"missing employeeId", `{"name":"R. Ames"}`, false},
		{"empty employeeId", `{"employeeId":"","name":"R. Ames"}`, false},
	}
	v := NewMessageValidator()
	for _, tc := range cases {
		payload, err := v.ValidateCrewEvent(json.RawMessage(tc.data))
		if tc.ok && err != nil {
			t.Fatalf("%s unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s expected error", tc.name)
		}
		if tc.ok && payload.EmployeeID != "emp-42" {
			t.Fatalf("%s wrong employeeId: %q", tc.name, payload.EmployeeID)
		}
	}
}
