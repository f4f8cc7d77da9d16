package patching

import (
	"time"

	"github.com/google/uuid"
)

// ResultStatus is the outcome of one attempted package fix.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
	ResultSkipped ResultStatus = "SKIPPED"
)

// Result records one attempted vulnerability fix within a patch operation.
// Results are append-only per operation: every planned fix produces exactly
// one row, including dry-run plans (Skipped) and strategies that failed to
// start (Failed for the whole group).
type Result struct {
	OperationID     uuid.UUID
	CVEID           string
	PackageName     string
	OriginalVersion string
	TargetVersion   string
	Status          ResultStatus
	PackageManager  PackageManager
	Command         string
	ErrorMessage    string
	RecordedAt      time.Time
}

// NewResult builds a result row for an attempted fix.
func NewResult(operationID uuid.UUID, vuln PatchableVulnerability, status ResultStatus, command, errorMessage string) Result {
	return Result{
		OperationID:     operationID,
		CVEID:           vuln.CVEID,
		PackageName:     vuln.PackageName,
		OriginalVersion: vuln.CurrentVersion,
		TargetVersion:   vuln.FixedVersion,
		Status:          status,
		PackageManager:  vuln.PackageManager,
		Command:         command,
		ErrorMessage:    errorMessage,
		RecordedAt:      time.Now().UTC(),
	}
}
