package patching

import (
	"context"

	"github.com/google/uuid"
)

// Strategy selection happens through a lookup map keyed by PackageManager;
// each implementation remediates one package-manager family against a mounted
// container filesystem.
//
// Apply must record one Result per vulnerability in its group, including the
// failure rows when the strategy cannot even start (index refresh failure).
type PatchStrategy interface {
	// Manager returns the package-manager family this strategy remediates.
	Manager() PackageManager

	// Apply upgrades the group's packages inside the mounted filesystem at
	// mountPath. dryRun plans and records intended changes without mutating
	// anything. The returned results always cover every input vulnerability
	// and carry the given operation id.
	Apply(ctx context.Context, operationID uuid.UUID, mountPath string, vulns []PatchableVulnerability, dryRun bool) []Result
}

// OperationRepository provides persistent storage for patch operations and
// their append-only result rows.
type OperationRepository interface {
	// CreateOperation persists a new patch operation.
	CreateOperation(ctx context.Context, op *Operation) error

	// UpdateOperation modifies an existing operation's phase, counts, and error.
	UpdateOperation(ctx context.Context, op *Operation) error

	// GetOperation retrieves an operation by id. Returns ErrOperationNotFound
	// when no such operation exists.
	GetOperation(ctx context.Context, id uuid.UUID) (*Operation, error)

	// AppendResults appends result rows for an operation.
	AppendResults(ctx context.Context, operationID uuid.UUID, results []Result) error

	// ListResults retrieves all result rows for an operation.
	ListResults(ctx context.Context, operationID uuid.UUID) ([]Result, error)
}

// Request is the public payload submitted to start a patch operation.
type Request struct {
	// ScanID selects the scan whose findings drive the patch plan.
	ScanID uuid.UUID `json:"scanId" validate:"required"`

	// DryRun plans and records intended changes without mutating the image.
	DryRun bool `json:"dryRun"`

	// CVEAllowList optionally restricts patching to the listed finding ids.
	CVEAllowList []string `json:"cveAllowList,omitempty"`

	// TargetRegistry optionally selects a registry to push the patched image to.
	TargetRegistry string `json:"targetRegistry,omitempty"`

	// TargetTag names the patched image tag; defaults to "<source-tag>-patched".
	TargetTag string `json:"targetTag,omitempty"`

	// Rescan enqueues the patched image back through the scan pipeline on success.
	Rescan bool `json:"rescan"`
}
