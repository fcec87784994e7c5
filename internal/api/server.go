package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/dunamismax/rapiddecoder/internal/domain"
	"github.com/dunamismax/rapiddecoder/internal/id"
	"github.com/dunamismax/rapiddecoder/internal/pipeline"
	"github.com/dunamismax/rapiddecoder/internal/queue"
	"github.com/dunamismax/rapiddecoder/internal/ratelimit"
	"github.com/dunamismax/rapiddecoder/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger       *log.Logger
	queueClient  queueEnqueuer
	jobStore     store.JobStore
	storage      objectStorage
	prober       sourceProber
	rateLimiter  RateLimiter
	userIDHeader string
	presignTTL   time.Duration
	metrics      *metrics
	tracer       trace.Tracer
	mux          *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueRenderImage(ctx context.Context, payload queue.RenderImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type sourceProber interface {
	Probe(ctx context.Context, req pipeline.Request) (decoder.Bounds, error)
}

// Options carries the optional collaborators. Nil fields disable the
// feature they back.
type Options struct {
	Storage      objectStorage
	Prober       sourceProber
	RateLimiter  RateLimiter
	UserIDHeader string
	PresignTTL   time.Duration
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, opts Options) *Server {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if strings.TrimSpace(opts.UserIDHeader) == "" {
		opts.UserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:       logger,
		queueClient:  queueClient,
		jobStore:     jobStore,
		storage:      opts.Storage,
		prober:       opts.Prober,
		rateLimiter:  opts.RateLimiter,
		userIDHeader: opts.UserIDHeader,
		presignTTL:   opts.PresignTTL,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("rapiddecoder/api"),
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/probe", s.handleProbe)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.allow(w, r, 1) {
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("presign failed job_id=%s err=%v", jobID, err)
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     s.userID(r, req.UserID),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		Pipeline:   req.Pipeline,
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	s.metrics.jobsCreated.WithLabelValues(job.SourceType).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
		"probe_url": "/v1/probe?job_id=" + job.ID,
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if !s.allow(w, r, len(job.Pipeline)) {
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	taskInfo, err := s.queueClient.EnqueueRenderImage(r.Context(), queue.RenderImagePayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Pipeline:    job.Pipeline,
		RequestedAt: time.Now().UTC(),
	})
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		writeError(w, http.StatusConflict, "job already started")
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("status update failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

// handleProbe reports the source's size and type from its header. Nothing
// is rendered.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if s.prober == nil {
		writeError(w, http.StatusNotImplemented, "probing is not enabled")
		return
	}
	job, ok := s.loadJob(w, r, r.URL.Query().Get("job_id"))
	if !ok {
		return
	}

	bounds, err := s.prober.Probe(r.Context(), pipeline.Request{
		JobID:      job.ID,
		SourceType: job.SourceType,
		ObjectKey:  job.ObjectKey,
	})
	s.metrics.probeTotal.WithLabelValues(probeOutcome(err)).Inc()
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedSourceType):
		writeError(w, http.StatusNotImplemented, "probing is not enabled for this source type")
		return
	case errors.Is(err, decoder.ErrResourceOpen):
		writeError(w, http.StatusConflict, "source object is not readable")
		return
	case errors.Is(err, decoder.ErrDecodeFailure):
		writeError(w, http.StatusUnprocessableEntity, "source is not a supported image")
		return
	case err != nil:
		s.logger.Printf("probe failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to probe source")
		return
	}

	s.metrics.probedPixels.Observe(float64(bounds.Width) * float64(bounds.Height) / 1e6)
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":        job.ID,
		"width":         bounds.Width,
		"height":        bounds.Height,
		"mime_type":     bounds.MimeType,
		"density_ratio": bounds.DensityRatio,
	})
}

func probeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pipeline.ErrUnsupportedSourceType):
		return "unsupported"
	case errors.Is(err, decoder.ErrResourceOpen):
		return "unreadable"
	case errors.Is(err, decoder.ErrDecodeFailure):
		return "undecodable"
	default:
		return "error"
	}
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request, jobID string) (domain.Job, bool) {
	jobID = strings.TrimSpace(jobID)
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) userID(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get(s.userIDHeader)); v != "" {
		return v
	}
	if v := strings.TrimSpace(fallback); v != "" {
		return v
	}
	return "anonymous"
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	if job.SourceType == domain.SourceTypeLocalFile {
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	}

	exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
	if err != nil {
		return fmt.Errorf("source object check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("source object is missing: %s", job.ObjectKey)
	}
	return nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var _ RateLimiter = (*ratelimit.RedisTokenBucket)(nil)
