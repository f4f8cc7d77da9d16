// Package api exposes the orchestrator's control surface over HTTP: starting
// and cancelling scans, inspecting queue and job state, launching patch
// operations, and reclassifying findings. It is a JSON API for dashboards and
// automation; no UI is served here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	apppatching "github.com/harborguard/scanhub/internal/app/patching"
	appreporting "github.com/harborguard/scanhub/internal/app/reporting"
	appscanning "github.com/harborguard/scanhub/internal/app/scanning"
	"github.com/harborguard/scanhub/internal/domain/patching"
	"github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/pkg/common/logger"
	"github.com/harborguard/scanhub/pkg/common/otel"
)

// Server routes control-plane requests to the scanning, reporting and
// patching services.
type Server struct {
	scans    *appscanning.Service
	patches  *apppatching.Service
	reporter *appreporting.Service
	findings scanning.FindingRepository
	scanRepo scanning.ScanRepository

	addr   string
	logger *logger.Logger
	tracer trace.Tracer

	router *http.ServeMux
}

// NewServer wires the control API. addr is the listen address, e.g. ":8080".
func NewServer(
	addr string,
	scans *appscanning.Service,
	patches *apppatching.Service,
	reporter *appreporting.Service,
	findings scanning.FindingRepository,
	scanRepo scanning.ScanRepository,
	log *logger.Logger,
	tracer trace.Tracer,
) *Server {
	s := &Server{
		scans:    scans,
		patches:  patches,
		reporter: reporter,
		findings: findings,
		scanRepo: scanRepo,
		addr:     addr,
		logger:   log.With("component", "api_server"),
		tracer:   tracer,
		router:   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/readiness", s.handleHealth)

	s.router.HandleFunc("POST /v1/scans", s.handleStartScan)
	s.router.HandleFunc("GET /v1/scans", s.handleListJobs)
	s.router.HandleFunc("GET /v1/scans/{requestID}", s.handleGetScan)
	s.router.HandleFunc("POST /v1/scans/{requestID}/cancel", s.handleCancelScan)
	s.router.HandleFunc("GET /v1/scans/{requestID}/findings", s.handleListFindings)
	s.router.HandleFunc("PATCH /v1/scans/{requestID}/findings/{findingID}", s.handleReclassify)
	s.router.HandleFunc("GET /v1/queue", s.handleQueueStats)

	s.router.HandleFunc("POST /v1/patches", s.handleStartPatch)
	s.router.HandleFunc("GET /v1/patches/{operationID}", s.handleGetPatch)
}

// Start runs the HTTP server until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.loggerMiddleware(s.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown api server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting api server", "addr", server.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			ctx := r.Context()
			s.logger.Info(ctx, "Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration", time.Since(start),
				"trace_id", otel.GetTraceID(ctx),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type startScanRequest struct {
	scanning.ScanRequest
	Priority int `json:"priority"`
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	result, err := s.scans.StartScan(r.Context(), req.ScanRequest, req.Priority)
	if err != nil {
		if errors.Is(err, scanning.ErrQueueDuplicate) {
			s.writeError(w, r, http.StatusConflict, err)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, r, http.StatusAccepted, result)
}

// jobView is the wire representation of a scan job.
type jobView struct {
	RequestID    string     `json:"requestId"`
	ScanID       uuid.UUID  `json:"scanId"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	Step         string     `json:"step,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	QueuedAt     time.Time  `json:"queuedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	RiskScore    *int       `json:"riskScore,omitempty"`
	Grade        string     `json:"grade,omitempty"`
}

func (s *Server) jobToView(ctx context.Context, job *scanning.Job) jobView {
	view := jobView{
		RequestID:    job.RequestID(),
		ScanID:       job.ScanID(),
		Status:       string(job.Status()),
		Progress:     job.Progress(),
		Step:         job.Step(),
		ErrorMessage: job.ErrorMessage(),
		QueuedAt:     job.QueuedAt(),
	}
	if started := job.StartTime(); !started.IsZero() {
		view.StartedAt = &started
	}
	if finished, ok := job.EndTime(); ok {
		view.FinishedAt = &finished
	}

	// Scores live on the scan row; a missing row just means no scores yet.
	if scan, err := s.scanRepo.GetScan(ctx, job.ScanID()); err == nil {
		if score, ok := scan.RiskScore(); ok {
			view.RiskScore = &score
		}
		view.Grade = scan.Grade()
	}
	return view
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.scans.Jobs()
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, s.jobToView(r.Context(), job))
	}
	s.writeJSON(w, r, http.StatusOK, views)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	job, err := s.scans.Job(r.PathValue("requestID"))
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.jobToView(r.Context(), job))
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestID")
	if _, err := s.scans.Job(requestID); err != nil {
		s.writeError(w, r, http.StatusNotFound, err)
		return
	}

	cancelled := s.scans.CancelScan(r.Context(), requestID)
	s.writeJSON(w, r, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats := s.scans.QueueStats()
	s.writeJSON(w, r, http.StatusOK, map[string]int{
		"queued":         stats.Queued,
		"running":        stats.Running,
		"maxConcurrent":  stats.MaxConcurrent,
		"recentComplete": stats.RecentComplete,
	})
}

// findingView is the wire representation of a normalized finding.
type findingView struct {
	Source           string   `json:"source"`
	ID               string   `json:"id"`
	Title            string   `json:"title,omitempty"`
	Severity         string   `json:"severity"`
	Package          string   `json:"package,omitempty"`
	InstalledVersion string   `json:"installedVersion,omitempty"`
	FixedVersion     string   `json:"fixedVersion,omitempty"`
	CVSS             *float64 `json:"cvss,omitempty"`
	FalsePositive    bool     `json:"falsePositive"`
}

type correlationView struct {
	ID            string   `json:"id"`
	Sources       []string `json:"sources"`
	Confidence    float64  `json:"confidence"`
	WorstSeverity string   `json:"worstSeverity"`
}

func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	job, err := s.scans.Job(r.PathValue("requestID"))
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, err)
		return
	}

	findings, err := s.findings.ListFindings(r.Context(), job.ScanID())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	correlations, err := s.findings.ListCorrelations(r.Context(), job.ScanID())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	fviews := make([]findingView, 0, len(findings))
	for _, f := range findings {
		fviews = append(fviews, findingView{
			Source:           f.Source,
			ID:               f.ID,
			Title:            f.Title,
			Severity:         string(f.Severity),
			Package:          f.Package,
			InstalledVersion: f.InstalledVersion,
			FixedVersion:     f.FixedVersion,
			CVSS:             f.CVSS,
			FalsePositive:    f.FalsePositive,
		})
	}
	cviews := make([]correlationView, 0, len(correlations))
	for _, c := range correlations {
		cviews = append(cviews, correlationView{
			ID:            c.ID,
			Sources:       c.Sources,
			Confidence:    c.Confidence,
			WorstSeverity: string(c.WorstSeverity),
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"findings":     fviews,
		"correlations": cviews,
	})
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	job, err := s.scans.Job(r.PathValue("requestID"))
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, err)
		return
	}

	var req struct {
		FalsePositive bool `json:"falsePositive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	err = s.reporter.ReclassifyFinding(r.Context(), job.ScanID(), r.PathValue("findingID"), req.FalsePositive)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// operationView is the wire representation of a patch operation.
type operationView struct {
	ID                   uuid.UUID  `json:"id"`
	ScanID               uuid.UUID  `json:"scanId"`
	Status               string     `json:"status"`
	Strategy             string     `json:"strategy,omitempty"`
	DryRun               bool       `json:"dryRun"`
	VulnerabilitiesCount int        `json:"vulnerabilitiesCount"`
	PatchedCount         int        `json:"patchedCount"`
	FailedCount          int        `json:"failedCount"`
	ErrorMessage         string     `json:"errorMessage,omitempty"`
	PatchedImageID       *uuid.UUID `json:"patchedImageId,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	FinishedAt           *time.Time `json:"finishedAt,omitempty"`
}

type resultView struct {
	CVEID           string `json:"cveId"`
	PackageName     string `json:"packageName"`
	OriginalVersion string `json:"originalVersion,omitempty"`
	TargetVersion   string `json:"targetVersion,omitempty"`
	Status          string `json:"status"`
	PackageManager  string `json:"packageManager"`
	Command         string `json:"command,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
}

func operationToView(op *patching.Operation) operationView {
	view := operationView{
		ID:                   op.ID(),
		ScanID:               op.ScanID(),
		Status:               string(op.Status()),
		Strategy:             string(op.Strategy()),
		DryRun:               op.DryRun(),
		VulnerabilitiesCount: op.VulnerabilitiesCount(),
		PatchedCount:         op.PatchedCount(),
		FailedCount:          op.FailedCount(),
		ErrorMessage:         op.ErrorMessage(),
		CreatedAt:            op.CreatedAt(),
	}
	if imageID, ok := op.PatchedImageID(); ok {
		view.PatchedImageID = &imageID
	}
	if finished, ok := op.FinishedAt(); ok {
		view.FinishedAt = &finished
	}
	return view
}

func (s *Server) handleStartPatch(w http.ResponseWriter, r *http.Request) {
	var req patching.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	op, err := s.patches.StartPatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, scanning.ErrScanNotFound) {
			s.writeError(w, r, http.StatusNotFound, err)
			return
		}
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, r, http.StatusAccepted, operationToView(op))
}

func (s *Server) handleGetPatch(w http.ResponseWriter, r *http.Request) {
	operationID, err := uuid.Parse(r.PathValue("operationID"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid operation id: %w", err))
		return
	}

	op, err := s.patches.GetOperation(r.Context(), operationID)
	if err != nil {
		if errors.Is(err, patching.ErrOperationNotFound) {
			s.writeError(w, r, http.StatusNotFound, err)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	results, err := s.patches.ListResults(r.Context(), operationID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	rviews := make([]resultView, 0, len(results))
	for _, res := range results {
		rviews = append(rviews, resultView{
			CVEID:           res.CVEID,
			PackageName:     res.PackageName,
			OriginalVersion: res.OriginalVersion,
			TargetVersion:   res.TargetVersion,
			Status:          string(res.Status),
			PackageManager:  string(res.PackageManager),
			Command:         res.Command,
			ErrorMessage:    res.ErrorMessage,
		})
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"operation": operationToView(op),
		"results":   rviews,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error(r.Context(), "failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
