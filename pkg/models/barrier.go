package models

import (
	"strings"
	"time"
)

// EndureMessage is the failure message delivered to waiting participants of an ENDURE barrier.
const EndureMessage = "barrier endures because some tasks failed before all instances were reached"

type BarrierState string

const (
	BarrierStanding BarrierState = "STANDING"
	BarrierDown     BarrierState = "DOWN"
	BarrierEndure   BarrierState = "ENDURE"
)

func (s BarrierState) IsTerminal() bool {
	return s == BarrierDown || s == BarrierEndure
}

// BarrierKey groups the participants of one barrier.
type BarrierKey struct {
	AppID                  string `json:"app_id"`
	PipelineStageElementID string `json:"pipeline_stage_element_id,omitempty"`
	ExecutionFamilyID      string `json:"execution_family_id"`
	Identifier             string `json:"identifier"`
}

func (k BarrierKey) String() string {
	return strings.Join([]string{k.AppID, k.PipelineStageElementID, k.ExecutionFamilyID, k.Identifier}, "/")
}

// BarrierParticipant is a branch that reached the barrier.
type BarrierParticipant struct {
	InstanceID    string `json:"instance_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	// Waiting is true while the participant is parked on CorrelationID.
	Waiting bool `json:"waiting"`
}

type BarrierInstance struct {
	ID           string               `json:"id"`
	Key          BarrierKey           `json:"key"`
	Expected     int                  `json:"expected"`
	Arrived      int                  `json:"arrived"`
	State        BarrierState         `json:"state"`
	Participants []BarrierParticipant `json:"participants,omitempty"`
	Version      int64                `json:"version"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// HasParticipant reports whether the instance already arrived.
func (b *BarrierInstance) HasParticipant(instanceID string) bool {
	for _, p := range b.Participants {
		if p.InstanceID == instanceID {
			return true
		}
	}

	return false
}

// Clone returns a deep copy, used to build the next version of the record.
func (b *BarrierInstance) Clone() *BarrierInstance {
	clone := *b
	clone.Participants = append([]BarrierParticipant(nil), b.Participants...)

	return &clone
}
