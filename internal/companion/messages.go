package companion

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags each payload on the wire.
type MessageType string

const (
	TypeRequestActiveWorkout MessageType = "requestActiveWorkout"
	TypeStartWorkout         MessageType = "startWorkout"
	TypePauseWorkout         MessageType = "pauseWorkout"
	TypeResumeWorkout        MessageType = "resumeWorkout"
	TypeEndWorkout           MessageType = "endWorkout"
	TypeSyncMetrics          MessageType = "syncMetrics"
	TypeHeartbeatResponse    MessageType = "heartbeatResponse"
	TypeJoinConfirmation     MessageType = "joinConfirmation"
	TypeAck                  MessageType = "ack"
)

// Message is one payload of the companion protocol. Concrete types below form
// a closed tagged union; payloads are decoded exactly once at the transport
// boundary, everything past that point works with typed values.
type Message interface {
	Type() MessageType
}

// RequestActiveWorkout asks the peer whether it is tracking a session.
// The peer answers with SyncMetrics when a session is active, or with a bare
// Ack when it is not.
type RequestActiveWorkout struct{}

func (RequestActiveWorkout) Type() MessageType { return TypeRequestActiveWorkout }

// StartWorkout informs the peer that a session was started locally.
type StartWorkout struct {
	WorkoutID string    `json:"workoutId"`
	IsIndoor  bool      `json:"isIndoor"`
	StartDate time.Time `json:"startDate"`
}

func (StartWorkout) Type() MessageType { return TypeStartWorkout }

// PauseWorkout requests a pause of the identified session.
type PauseWorkout struct {
	WorkoutID string `json:"workoutId"`
}

func (PauseWorkout) Type() MessageType { return TypePauseWorkout }

// ResumeWorkout requests a resume of the identified session.
type ResumeWorkout struct {
	WorkoutID string `json:"workoutId"`
}

func (ResumeWorkout) Type() MessageType { return TypeResumeWorkout }

// EndWorkout requests completion of the identified session.
type EndWorkout struct {
	WorkoutID string `json:"workoutId"`
}

func (EndWorkout) Type() MessageType { return TypeEndWorkout }

// MetricFields carries one flat set of metric readings.
type MetricFields struct {
	Distance    float64 `json:"distance"`
	Pace        float64 `json:"pace"`
	HeartRate   float64 `json:"heartRate"`
	Calories    float64 `json:"calories"`
	Cadence     float64 `json:"cadence"`
	StepCount   float64 `json:"stepCount"`
	ElapsedTime float64 `json:"elapsedTime"`
}

// SyncMetrics is the periodic full-state report a tracking device sends.
type SyncMetrics struct {
	WorkoutID   string    `json:"workoutId"`
	State       string    `json:"state"`
	Distance    float64   `json:"distance"`
	ElapsedTime float64   `json:"elapsedTime"`
	HeartRate   float64   `json:"heartRate"`
	Calories    float64   `json:"calories"`
	Cadence     float64   `json:"cadence"`
	Pace        float64   `json:"pace"`
	StepCount   float64   `json:"stepCount"`
	StartDate   time.Time `json:"startDate"`
	IsIndoor    bool      `json:"isIndoor"`
}

func (SyncMetrics) Type() MessageType { return TypeSyncMetrics }

// HeartbeatResponse is the throttled status push of the heartbeat scheduler.
type HeartbeatResponse struct {
	State     string       `json:"state"`
	WorkoutID string       `json:"workoutId"`
	Metrics   MetricFields `json:"metrics"`
}

func (HeartbeatResponse) Type() MessageType { return TypeHeartbeatResponse }

// JoinConfirmation tells the session originator that this device adopted the
// in-progress session.
type JoinConfirmation struct {
	WorkoutType string `json:"workoutType"`
	Status      string `json:"status"`
	PhoneState  string `json:"phoneState"`
	WorkoutID   string `json:"workoutId"`
}

func (JoinConfirmation) Type() MessageType { return TypeJoinConfirmation }

// Ack is the generic acknowledgment reply.
// Error, when set, is drawn from the closed protocol error set:
// InvalidState, MismatchedWorkoutId, EngineUnavailable.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	State   string `json:"state"`
}

func (Ack) Type() MessageType { return TypeAck }

// Encode serializes a message with its type tag inlined alongside the
// type-specific fields.
func Encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	fields["type"] = string(m.Type())
	return json.Marshal(fields)
}

// Decode parses a tagged payload back into its concrete message type.
// Unknown tags are an error; schema validation happens here and nowhere else.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode message header: %w", err)
	}

	switch head.Type {
	case TypeRequestActiveWorkout:
		return RequestActiveWorkout{}, nil
	case TypeStartWorkout:
		var m StartWorkout
		return m, json.Unmarshal(data, &m)
	case TypePauseWorkout:
		var m PauseWorkout
		return m, json.Unmarshal(data, &m)
	case TypeResumeWorkout:
		var m ResumeWorkout
		return m, json.Unmarshal(data, &m)
	case TypeEndWorkout:
		var m EndWorkout
		return m, json.Unmarshal(data, &m)
	case TypeSyncMetrics:
		var m SyncMetrics
		return m, json.Unmarshal(data, &m)
	case TypeHeartbeatResponse:
		var m HeartbeatResponse
		return m, json.Unmarshal(data, &m)
	case TypeJoinConfirmation:
		var m JoinConfirmation
		return m, json.Unmarshal(data, &m)
	case TypeAck:
		var m Ack
		return m, json.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unknown message type %q", head.Type)
	}
}
