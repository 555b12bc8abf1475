package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"frameworks/api_signaling/pkg/api/lookout"
)

// StartMonitoringPayload is the body of a start-monitoring request.
type StartMonitoringPayload struct {
	ProducerID string `json:"producerId" validate:"required"`
}

// StopMonitoringPayload is the body of a stop-monitoring request.
type StopMonitoringPayload struct {
	ProducerID string `json:"producerId" validate:"required"`
}

// SignalPayload is the body of an offer, answer or ice-candidate message.
// The three blobs are opaque to the broker; only presence is checked.
type SignalPayload struct {
	TargetID  string          `json:"targetId" validate:"required"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Blob returns the signaling payload matching the message type, or nil.
func (p *SignalPayload) Blob(messageType string) json.RawMessage {
	switch messageType {
	case lookout.TypeOffer:
		return p.Offer
	case lookout.TypeAnswer:
		return p.Answer
	case lookout.TypeIceCandidate:
		return p.Candidate
	default:
		return nil
	}
}

// CrewEventPayload is the body of a crew-sign-on or crew-sign-off message.
// ProducerID and Timestamp are accepted on the wire but never trusted: the
// broker stamps both from the authenticated connection.
type CrewEventPayload struct {
	EmployeeID string     `json:"employeeId" validate:"required"`
	Name       string     `json:"name" validate:"required"`
	ProducerID string     `json:"producerId,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// MessageValidator performs structural validation of inbound broker messages
// before they reach the dispatch pipeline.
type MessageValidator struct {
	validator *validator.Validate
}

// NewMessageValidator constructs a MessageValidator with standard struct validation.
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{
		validator: validator.New(),
	}
}

// ValidateStartMonitoring parses and checks a start-monitoring body.
func (v *MessageValidator) ValidateStartMonitoring(data json.RawMessage) (*StartMonitoringPayload, error) {
	var payload StartMonitoringPayload
	if err := unmarshalBody(data, &payload); err != nil {
		return nil, err
	}
	if err := v.validator.Struct(&payload); err != nil {
		return nil, fmt.Errorf("producerId is required")
	}
	return &payload, nil
}

// ValidateStopMonitoring parses and checks a stop-monitoring body.
func (v *MessageValidator) ValidateStopMonitoring(data json.RawMessage) (*StopMonitoringPayload, error) {
	var payload StopMonitoringPayload
	if err := unmarshalBody(data, &payload); err != nil {
		return nil, err
	}
	if err := v.validator.Struct(&payload); err != nil {
		return nil, fmt.Errorf("producerId is required")
	}
	return &payload, nil
}

// ValidateSignal parses and checks the body of an offer, answer or
// ice-candidate message. The blob keyed by the message type must be present.
func (v *MessageValidator) ValidateSignal(messageType string, data json.RawMessage) (*SignalPayload, error) {
	var payload SignalPayload
	if err := unmarshalBody(data, &payload); err != nil {
		return nil, err
	}
	if err := v.validator.Struct(&payload); err != nil {
		return nil, fmt.Errorf("targetId is required")
	}
	if !present(payload.Blob(messageType)) {
		return nil, fmt.Errorf("%s payload is required", blobField(messageType))
	}
	return &payload, nil
}

// ValidateCrewEvent parses and checks a crew-sign-on or crew-sign-off body.
func (v *MessageValidator) ValidateCrewEvent(data json.RawMessage) (*CrewEventPayload, error) {
	var payload CrewEventPayload
	if err := unmarshalBody(data, &payload); err != nil {
		return nil, err
	}
	if err := v.validator.Struct(&payload); err != nil {
		return nil, fmt.Errorf("employeeId and name are required")
	}
	return &payload, nil
}

func unmarshalBody(data json.RawMessage, out interface{}) error {
	if !present(data) {
		return fmt.Errorf("message data is required")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed message data: %w", err)
	}
	return nil
}

// present reports whether a raw JSON value carries content. A missing key
// decodes to nil and an explicit null counts as absent too.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func blobField(messageType string) string {
	switch messageType {
	case lookout.TypeOffer:
		return "offer"
	case lookout.TypeAnswer:
		return "answer"
	case lookout.TypeIceCandidate:
		return "candidate"
	default:
		return "signal"
	}
}
