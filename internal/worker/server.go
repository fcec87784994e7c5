package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dunamismax/rapiddecoder/internal/config"
	"github.com/dunamismax/rapiddecoder/internal/decoder"
	"github.com/dunamismax/rapiddecoder/internal/domain"
	"github.com/dunamismax/rapiddecoder/internal/pipeline"
	"github.com/dunamismax/rapiddecoder/internal/queue"
	"github.com/dunamismax/rapiddecoder/internal/storage"
	"github.com/dunamismax/rapiddecoder/internal/store"
	"github.com/dunamismax/rapiddecoder/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger         *log.Logger
	server         *asynq.Server
	sem            chan struct{}
	localRenderer  renderer
	objectRenderer renderer
	webhookClient  webhookSender
	jobStore       store.JobStore
	usageStore     store.UsageStore
	metrics        *metrics
	tracer         trace.Tracer
}

type renderer interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	decoderCfg config.DecoderConfig,
	storageClient *storage.Client,
	webhookClient webhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	opts := pipeline.Options{
		FinalScale:      decoderCfg.FinalScale,
		FilterBitmap:    decoderCfg.FilterBitmap,
		StepParallelism: decoderCfg.StepParallelism,
	}

	localRenderer, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, opts)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	var objectRenderer renderer
	if storageClient != nil {
		objectRenderer, err = pipeline.NewObjectStoreProcessor(storageClient, workerCfg.OutputPrefix, opts)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger:         logger,
		sem:            make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localRenderer:  localRenderer,
		objectRenderer: objectRenderer,
		webhookClient:  webhookClient,
		jobStore:       jobStore,
		usageStore:     usageStore,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("rapiddecoder/worker"),
	}
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues:      map[string]int{queueCfg.Name: 1},
			LogLevel:    asynq.InfoLevel,
			IsFailure: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderImage, s.handleRenderImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRenderImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseRenderImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.render_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.pipeline_steps", len(payload.Pipeline)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"rendering job_id=%s source_type=%s steps=%d object_key=%s",
		payload.JobID,
		payload.SourceType,
		len(payload.Pipeline),
		payload.ObjectKey,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	var decodedPixels atomic.Int64
	ctx = decoder.WithTrace(ctx, s.metrics.decoderTrace(&decodedPixels))

	result, err := s.render(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		permanent := isPermanent(err)
		if permanent || finalAttempt(ctx) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
			if hookErr := s.dispatchWebhook(ctx, payload, webhook.EventRenderFailed, map[string]any{
				"job_id":       payload.JobID,
				"status":       domain.JobStatusFailed,
				"source_type":  payload.SourceType,
				"object_key":   payload.ObjectKey,
				"requested_at": payload.RequestedAt,
				"failed_at":    time.Now().UTC(),
				"error":        err.Error(),
			}); hookErr != nil {
				span.RecordError(hookErr)
			}
		}
		if permanent {
			return fmt.Errorf("render job_id=%s: %v: %w", payload.JobID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("render job_id=%s: %w", payload.JobID, err)
	}

	s.logger.Printf("rendered job_id=%s outputs=%d source=%dx%d", payload.JobID, len(result.Outputs), result.SourceWidth, result.SourceHeight)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.metrics.pipelineOutputsTotal.Add(float64(len(result.Outputs)))
	s.recordUsage(ctx, payload.JobID, result, decodedPixels.Load(), time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventRenderCompleted, map[string]any{
		"job_id":        payload.JobID,
		"status":        domain.JobStatusSucceeded,
		"source_type":   payload.SourceType,
		"object_key":    payload.ObjectKey,
		"source_width":  result.SourceWidth,
		"source_height": result.SourceHeight,
		"requested_at":  payload.RequestedAt,
		"completed_at":  time.Now().UTC(),
		"outputs":       result.Outputs,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		// The outputs exist; re-rendering would not fix delivery.
		outcome = domain.JobStatusSucceeded
		return nil
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "rendered")
	return nil
}

func (s *Server) render(ctx context.Context, payload queue.RenderImagePayload) (pipeline.Result, error) {
	req := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Pipeline:   payload.Pipeline,
	}

	r := s.objectRenderer
	if payload.SourceType == domain.SourceTypeLocalFile {
		r = s.localRenderer
	}
	if r == nil {
		return pipeline.Result{}, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
	return r.Process(ctx, req)
}

// isPermanent reports failures that a retry would repeat verbatim.
func isPermanent(err error) bool {
	return errors.Is(err, decoder.ErrInvalidArgument) ||
		errors.Is(err, decoder.ErrDecodeFailure) ||
		errors.Is(err, pipeline.ErrInvalidTransform) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType)
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RenderImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, decodedPixels int64, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	var (
		pixelsProcessed  int64
		totalOutputBytes int64
	)
	for _, output := range result.Outputs {
		pixelsProcessed += int64(output.Width) * int64(output.Height)
		totalOutputBytes += int64(output.Bytes)
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		Outputs:         len(result.Outputs),
		PixelsProcessed: pixelsProcessed,
		PixelsDecoded:   decodedPixels,
		BytesSaved:      max(0, result.SourceBytes-totalOutputBytes),
		ComputeTimeMS:   max(1, computeDuration.Milliseconds()),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(usage.BytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}
