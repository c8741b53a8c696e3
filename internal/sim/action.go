package sim

import "fmt"

// ActionType is one of the four combat actions.
type ActionType string

const (
	ActionMove        ActionType = "move"
	ActionAttack      ActionType = "attack"
	ActionEndTurn     ActionType = "end_turn"
	ActionCollectLoot ActionType = "collect_loot"
)

// Action is a validated request against the current turn's unit.
type Action struct {
	Type     ActionType `json:"type"`
	UnitID   string     `json:"unitId"`
	Path     []Position `json:"path,omitempty"`
	TargetID string     `json:"targetId,omitempty"`
	DropID   string     `json:"dropId,omitempty"`
}

// Validation reason codes carried by InvalidActionError.
const (
	ReasonNotUnitsTurn       = "not_units_turn"
	ReasonCombatNotActive    = "combat_not_active"
	ReasonUnknownUnit        = "unknown_unit"
	ReasonUnknownAction      = "unknown_action"
	ReasonEmptyPath          = "empty_path"
	ReasonPathNotContiguous  = "path_not_contiguous"
	ReasonPathBlocked        = "path_blocked"
	ReasonTileOccupied       = "tile_occupied"
	ReasonNotEnoughMovement  = "not_enough_movement"
	ReasonTargetNotFound     = "target_not_found"
	ReasonTargetDead         = "target_dead"
	ReasonOutOfRange         = "out_of_range"
	ReasonNoLineOfSight      = "no_line_of_sight"
	ReasonActionAlreadyUsed  = "action_already_used"
	ReasonDropNotFound       = "drop_not_found"
	ReasonDropNotHere        = "drop_not_here"
)

// InvalidActionError rejects an action with a machine-readable reason code.
type InvalidActionError struct {
	Reason string
	Detail string
}

func (e *InvalidActionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("invalid action: %s", e.Reason)
	}
	return fmt.Sprintf("invalid action: %s (%s)", e.Reason, e.Detail)
}

func invalid(reason, format string, args ...any) error {
	return &InvalidActionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
