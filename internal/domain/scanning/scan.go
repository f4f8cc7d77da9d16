package scanning

import (
	"time"

	"github.com/google/uuid"
)

// Scan is the persisted record of one scan execution against an image. It is
// created synchronously at submission so callers can reference the scan ID
// immediately, and updated as the job moves through its lifecycle.
type Scan struct {
	id           uuid.UUID
	requestID    string
	imageID      uuid.UUID
	status       JobStatus
	riskScore    *int
	grade        string
	errorMessage string
	createdAt    time.Time
	finishedAt   *time.Time
}

// NewScan creates a Scan row in Pending state for the given image.
func NewScan(requestID string, imageID uuid.UUID) *Scan {
	return &Scan{
		id:        uuid.New(),
		requestID: requestID,
		imageID:   imageID,
		status:    JobStatusPending,
		createdAt: time.Now().UTC(),
	}
}

// ReconstructScan creates a Scan from stored fields. Storage use only.
func ReconstructScan(
	id uuid.UUID,
	requestID string,
	imageID uuid.UUID,
	status JobStatus,
	riskScore *int,
	grade, errorMessage string,
	createdAt time.Time,
	finishedAt *time.Time,
) *Scan {
	return &Scan{
		id:           id,
		requestID:    requestID,
		imageID:      imageID,
		status:       status,
		riskScore:    riskScore,
		grade:        grade,
		errorMessage: errorMessage,
		createdAt:    createdAt,
		finishedAt:   finishedAt,
	}
}

func (s *Scan) ID() uuid.UUID        { return s.id }
func (s *Scan) RequestID() string    { return s.requestID }
func (s *Scan) ImageID() uuid.UUID   { return s.imageID }
func (s *Scan) Status() JobStatus    { return s.status }
func (s *Scan) Grade() string        { return s.grade }
func (s *Scan) ErrorMessage() string { return s.errorMessage }
func (s *Scan) CreatedAt() time.Time { return s.createdAt }

// RiskScore returns the aggregate risk score if one has been computed.
func (s *Scan) RiskScore() (int, bool) {
	if s.riskScore == nil {
		return 0, false
	}
	return *s.riskScore, true
}

// FinishedAt returns the completion time if the scan has finished.
func (s *Scan) FinishedAt() (time.Time, bool) {
	if s.finishedAt == nil {
		return time.Time{}, false
	}
	return *s.finishedAt, true
}

// SetStatus updates the lifecycle status, recording the finish time and
// error message for terminal states.
func (s *Scan) SetStatus(status JobStatus, errorMessage string) error {
	if err := s.status.validateTransition(status); err != nil {
		return err
	}
	s.status = status
	s.errorMessage = errorMessage
	if status.IsTerminal() {
		now := time.Now().UTC()
		s.finishedAt = &now
	}
	return nil
}

// SetScores records the computed aggregate risk score and compliance grade.
func (s *Scan) SetScores(riskScore int, grade string) {
	s.riskScore = &riskScore
	s.grade = grade
}
