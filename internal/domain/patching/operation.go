package patching

import (
	"time"

	"github.com/google/uuid"
)

// Operation tracks a single patch execution against a source image: the
// phases it has moved through, the counts of attempted fixes, and the patched
// image it produced, if any.
type Operation struct {
	id            uuid.UUID
	sourceImageID uuid.UUID
	scanID        uuid.UUID
	status        OperationStatus
	strategy      Strategy
	dryRun        bool

	vulnerabilitiesCount int
	patchedCount         int
	failedCount          int

	patchedImageID *uuid.UUID
	errorMessage   string

	createdAt  time.Time
	finishedAt *time.Time
}

// NewOperation creates a patch operation in Pending state for the given
// source image and the scan whose findings drive the patch plan.
func NewOperation(sourceImageID, scanID uuid.UUID, dryRun bool) *Operation {
	return &Operation{
		id:            uuid.New(),
		sourceImageID: sourceImageID,
		scanID:        scanID,
		status:        StatusPending,
		strategy:      StrategyMulti,
		dryRun:        dryRun,
		createdAt:     time.Now().UTC(),
	}
}

// ReconstructOperation creates an Operation from stored fields. Storage use only.
func ReconstructOperation(
	id, sourceImageID, scanID uuid.UUID,
	status OperationStatus,
	strategy Strategy,
	dryRun bool,
	vulnerabilitiesCount, patchedCount, failedCount int,
	patchedImageID *uuid.UUID,
	errorMessage string,
	createdAt time.Time,
	finishedAt *time.Time,
) *Operation {
	return &Operation{
		id:                   id,
		sourceImageID:        sourceImageID,
		scanID:               scanID,
		status:               status,
		strategy:             strategy,
		dryRun:               dryRun,
		vulnerabilitiesCount: vulnerabilitiesCount,
		patchedCount:         patchedCount,
		failedCount:          failedCount,
		patchedImageID:       patchedImageID,
		errorMessage:         errorMessage,
		createdAt:            createdAt,
		finishedAt:           finishedAt,
	}
}

func (o *Operation) ID() uuid.UUID            { return o.id }
func (o *Operation) SourceImageID() uuid.UUID { return o.sourceImageID }
func (o *Operation) ScanID() uuid.UUID        { return o.scanID }
func (o *Operation) Status() OperationStatus  { return o.status }
func (o *Operation) Strategy() Strategy       { return o.strategy }
func (o *Operation) DryRun() bool             { return o.dryRun }
func (o *Operation) VulnerabilitiesCount() int { return o.vulnerabilitiesCount }
func (o *Operation) PatchedCount() int        { return o.patchedCount }
func (o *Operation) FailedCount() int         { return o.failedCount }
func (o *Operation) ErrorMessage() string     { return o.errorMessage }
func (o *Operation) CreatedAt() time.Time     { return o.createdAt }

// PatchedImageID returns the image produced by this operation, if any.
func (o *Operation) PatchedImageID() (uuid.UUID, bool) {
	if o.patchedImageID == nil {
		return uuid.Nil, false
	}
	return *o.patchedImageID, true
}

// FinishedAt returns the completion time if the operation has finished.
func (o *Operation) FinishedAt() (time.Time, bool) {
	if o.finishedAt == nil {
		return time.Time{}, false
	}
	return *o.finishedAt, true
}

// Advance moves the operation to the next phase after validating the strict
// forward transition.
func (o *Operation) Advance(target OperationStatus) error {
	if err := o.status.validateTransition(target); err != nil {
		return err
	}
	o.status = target
	if target.IsTerminal() {
		now := time.Now().UTC()
		o.finishedAt = &now
	}
	return nil
}

// Fail transitions to Failed from any non-terminal phase and stores the cause.
func (o *Operation) Fail(message string) error {
	if err := o.status.validateTransition(StatusFailed); err != nil {
		return err
	}
	o.status = StatusFailed
	o.errorMessage = message
	now := time.Now().UTC()
	o.finishedAt = &now
	return nil
}

// SetPlan records the analysis outcome: how many vulnerabilities were deemed
// patchable and which strategy label covers them.
func (o *Operation) SetPlan(vulnerabilities int, strategy Strategy) {
	o.vulnerabilitiesCount = vulnerabilities
	o.strategy = strategy
}

// RecordCounts stores the final patched/failed tallies.
func (o *Operation) RecordCounts(patched, failed int) {
	o.patchedCount = patched
	o.failedCount = failed
}

// SetPatchedImage links the image produced by a successful push phase.
func (o *Operation) SetPatchedImage(imageID uuid.UUID) {
	o.patchedImageID = &imageID
}
