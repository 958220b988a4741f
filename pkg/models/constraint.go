package models

import "time"

type ConsumerState string

const (
	ConsumerActive  ConsumerState = "ACTIVE"
	ConsumerBlocked ConsumerState = "BLOCKED"
)

// HoldingScope is the entity whose lifecycle releases a consumer's permits.
type HoldingScope string

const (
	HoldingScopeWorkflow     HoldingScope = "WORKFLOW"
	HoldingScopePipeline     HoldingScope = "PIPELINE"
	HoldingScopePhase        HoldingScope = "PHASE"
	HoldingScopePhaseSection HoldingScope = "PHASE_SECTION"
	HoldingScopeNextStep     HoldingScope = "NEXT_STEP"
)

// StrategyFIFO admits blocked consumers strictly in registration order.
const StrategyFIFO = "FIFO"

type ResourceConstraint struct {
	ID        string    `json:"id"`
	Capacity  int       `json:"capacity"`
	Strategy  string    `json:"strategy"`
	NextOrder int64     `json:"next_order"`
	CreatedAt time.Time `json:"created_at"`
}

type Consumer struct {
	ConstraintID      string        `json:"constraint_id"`
	ConsumerID        string        `json:"consumer_id"`
	Permits           int           `json:"permits"`
	Order             int64         `json:"order"`
	State             ConsumerState `json:"state"`
	ReleaseEntityID   string        `json:"release_entity_id"`
	ReleaseEntityType HoldingScope  `json:"release_entity_type"`
	CreatedAt         time.Time     `json:"created_at"`
}

// ConsumerRequest asks for permits on a constraint.
type ConsumerRequest struct {
	ConstraintID      string       `json:"constraint_id"       validate:"required"`
	ConsumerID        string       `json:"consumer_id"         validate:"required"`
	Permits           int          `json:"permits"             validate:"gt=0"`
	ReleaseEntityID   string       `json:"release_entity_id"   validate:"required"`
	ReleaseEntityType HoldingScope `json:"release_entity_type" validate:"required"`
}
