package patching

import "fmt"

// OperationStatus represents the phase of a patch operation. The machine is
// strictly forward: each phase may only advance to the next one, with Failed
// reachable from any non-terminal phase.
type OperationStatus string

const (
	StatusPending   OperationStatus = "PENDING"
	StatusAnalyzing OperationStatus = "ANALYZING"
	StatusPulling   OperationStatus = "PULLING"
	StatusBuilding  OperationStatus = "BUILDING"
	StatusPatching  OperationStatus = "PATCHING"
	StatusPushing   OperationStatus = "PUSHING"
	StatusVerifying OperationStatus = "VERIFYING"
	StatusCompleted OperationStatus = "COMPLETED"
	StatusFailed    OperationStatus = "FAILED"
)

// String returns the string representation of the OperationStatus.
func (s OperationStatus) String() string { return string(s) }

// IsTerminal reports whether the status is final.
func (s OperationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// order positions each phase on the forward axis.
func (s OperationStatus) order() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAnalyzing:
		return 1
	case StatusPulling:
		return 2
	case StatusBuilding:
		return 3
	case StatusPatching:
		return 4
	case StatusPushing:
		return 5
	case StatusVerifying:
		return 6
	case StatusCompleted:
		return 7
	default:
		return -1
	}
}

// validateTransition checks the strict forward rule: only forward moves are
// allowed, skipping phases is permitted (dry runs and short circuits skip
// Pushing), and Failed is reachable from any non-terminal state.
func (s OperationStatus) validateTransition(target OperationStatus) error {
	if s.IsTerminal() {
		return fmt.Errorf("invalid patch status transition from terminal state %s to %s", s, target)
	}
	if target == StatusFailed {
		return nil
	}
	if target.order() <= s.order() {
		return fmt.Errorf("invalid patch status transition from %s to %s", s, target)
	}
	return nil
}

// ParseOperationStatus converts a string to an OperationStatus.
func ParseOperationStatus(v string) (OperationStatus, error) {
	switch OperationStatus(v) {
	case StatusPending, StatusAnalyzing, StatusPulling, StatusBuilding,
		StatusPatching, StatusPushing, StatusVerifying, StatusCompleted, StatusFailed:
		return OperationStatus(v), nil
	}
	return "", fmt.Errorf("unknown patch operation status %q", v)
}
