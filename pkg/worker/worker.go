// Package worker runs the planning side of the pipeline: it consumes jobs
// from the queue, normalizes and grounds each request, generates a trip plan,
// and persists the assistant reply. Delivery is at-least-once, so every
// effect here is idempotent: the reply insert is guarded by a unique index on
// (thread_id, source_message_id) and a redelivered job that already has a
// reply is simply acked.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
	"github.com/roamerhq/roamer/pkg/planner"
	"github.com/roamerhq/roamer/pkg/queue"
	"github.com/roamerhq/roamer/pkg/store"
)

var (
	jobsProcessedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roamer_worker_jobs_processed_total",
		Help: "Planning jobs processed by outcome.",
	}, []string{"outcome"})

	jobDurationMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roamer_worker_job_duration_ms",
		Help:    "Time spent processing one planning job.",
		Buckets: prometheus.LinearBuckets(0, 2000, 10),
	}, []string{"outcome"})
)

// Retriever supplies the grounding context for a normalized request.
// *retrieval.Client satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, req *planner.Request) (*planner.Grounding, error)
}

type Config struct {
	// Workers is the number of concurrent planning goroutines.
	Workers int

	// MaxAttempts bounds both queue redeliveries of a job and generation
	// retries within one delivery.
	MaxAttempts int

	// JobTimeout bounds one job's retrieval plus generation.
	JobTimeout time.Duration

	// Backoff is the initial delay between generation retries and between
	// dequeue retries after a queue error; it doubles each attempt.
	Backoff time.Duration
}

// maxDequeueBackoff caps the retry delay while the queue itself is failing.
const maxDequeueBackoff = 30 * time.Second

func DefaultConfig() Config {
	return Config{
		Workers:     4,
		MaxAttempts: 3,
		JobTimeout:  30 * time.Second,
		Backoff:     500 * time.Millisecond,
	}
}

type Processor struct {
	store     store.Store
	queue     queue.Queue
	retriever Retriever
	planner   *planner.Planner
	config    Config
}

func NewProcessor(storeClient store.Store, jobQueue queue.Queue, retriever Retriever, tripPlanner *planner.Planner, config Config) *Processor {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Backoff <= 0 {
		config.Backoff = 500 * time.Millisecond
	}
	return &Processor{
		store:     storeClient,
		queue:     jobQueue,
		retriever: retriever,
		planner:   tripPlanner,
		config:    config,
	}
}

// Run dequeues jobs and feeds them to the worker pool until ctx is done or
// the queue is closed. It blocks until in-flight jobs have drained.
func (p *Processor) Run(ctx context.Context) {
	deliveries := make(chan queue.Delivery)
	wg := sync.WaitGroup{}

	for i := 0; i < p.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for delivery := range deliveries {
				p.handle(delivery)
			}
		}()
	}

	log.Infof("planning worker started with %d workers", p.config.Workers)

	// Transient queue errors must not kill the pool; only context
	// cancellation or queue closure stops consumption.
	backoff := p.config.Backoff
	for {
		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				break
			}
			log.WithError(err).Errorf("dequeue failed, retrying in %s", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			if backoff < maxDequeueBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = p.config.Backoff
		deliveries <- delivery
	}

	close(deliveries)
	wg.Wait()
	log.Info("planning worker stopped")
}

// handle processes one delivery end to end. The reply is durable before the
// ack goes out; if persisting fails the job is nak'd and redelivered.
func (p *Processor) handle(delivery queue.Delivery) {
	job := delivery.Job()
	logger := log.WithFields(log.Fields{
		"thread_id":  job.ThreadID,
		"request_id": job.RequestID,
		"message_id": job.MessageID,
		"attempt":    delivery.Attempt(),
	})

	start := time.Now()
	outcome := "planned"
	defer func() {
		jobsProcessedMetric.WithLabelValues(outcome).Inc()
		jobDurationMetric.WithLabelValues(outcome).Observe(float64(time.Since(start).Milliseconds()))
	}()

	threadID, err := uuid.Parse(job.ThreadID)
	if err != nil {
		// Unprocessable and unaddressable; nothing to reply to.
		logger.WithError(err).Error("job has invalid thread id, discarding")
		outcome = "invalid"
		p.ack(delivery, logger)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	// A redelivered job whose reply already landed needs no work.
	if existing, err := p.store.AssistantReplyFor(ctx, threadID, job.MessageID); err == nil {
		logger.WithField("reply_id", existing.ID).Info("reply already exists, acking redelivery")
		outcome = "already_done"
		p.ack(delivery, logger)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.WithError(err).Error("could not check for existing reply")
		outcome = "retry"
		p.nak(delivery, logger)
		return
	}

	if delivery.Attempt() > p.config.MaxAttempts {
		logger.Warn("delivery attempts exhausted, writing terminal reply")
		outcome = "exhausted"
		p.writeReply(delivery, logger, threadID, job.MessageID, v1.TextContent(
			"We could not produce a trip plan for this request after several attempts. "+
				"Please try submitting it again."))
		return
	}

	req, err := planner.Normalize(job, time.Now().UTC())
	if err != nil {
		var normErr *planner.NormalizationError
		if errors.As(err, &normErr) {
			// The request itself is bad; retrying cannot help. Tell the user.
			logger.WithError(err).Info("request failed normalization")
			outcome = "rejected"
			p.writeReply(delivery, logger, threadID, job.MessageID, v1.TextContent(
				fmt.Sprintf("We could not plan this trip: %s. Please adjust the request and resubmit.", normErr.Reason)))
			return
		}
		logger.WithError(err).Error("unexpected normalization failure")
		outcome = "retry"
		p.nak(delivery, logger)
		return
	}

	grounding, err := p.retriever.Retrieve(ctx, req)
	if err != nil {
		logger.WithError(err).Warn("retrieval failed, planning without grounding")
		grounding = &planner.Grounding{}
	}

	plan := p.generateWithRetries(ctx, logger, req, grounding)
	p.writeReply(delivery, logger, threadID, job.MessageID, v1.PlanContent(plan))
}

// generateWithRetries attempts LLM generation up to MaxAttempts times with
// doubling backoff, then falls back to the rule-based plan. It always
// returns a plan.
func (p *Processor) generateWithRetries(ctx context.Context, logger *log.Entry, req *planner.Request, grounding *planner.Grounding) *v1.TripPlan {
	backoff := p.config.Backoff
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		plan, err := p.planner.Generate(ctx, req, grounding)
		if err == nil {
			return plan
		}
		logger.WithError(err).Warnf("plan generation attempt %d failed", attempt)
		if ctx.Err() != nil {
			break
		}
		if attempt < p.config.MaxAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			backoff *= 2
		}
	}

	logger.Info("generation retries exhausted, using rule-based plan")
	return p.planner.Fallback(req, grounding)
}

// writeReply persists the assistant message and acks on success. A duplicate
// means a concurrent redelivery already wrote the reply, which is success
// too. Any other persistence failure naks so the job is redelivered.
func (p *Processor) writeReply(delivery queue.Delivery, logger *log.Entry, threadID uuid.UUID, sourceMessageID uint, content v1.MessageContent) {
	// The delivery's job context may be past its deadline; give the write its
	// own short one so a slow plan still lands.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg, err := p.store.CreateMessage(ctx, store.NewMessage{
		ThreadID:        threadID,
		Role:            v1.RoleAssistant,
		Content:         content,
		SourceMessageID: &sourceMessageID,
	})
	switch {
	case err == nil:
		logger.WithField("reply_id", msg.ID).Info("assistant reply persisted")
	case errors.Is(err, store.ErrDuplicate):
		logger.Info("assistant reply already persisted by a concurrent delivery")
	default:
		logger.WithError(err).Error("could not persist assistant reply")
		p.nak(delivery, logger)
		return
	}

	p.ack(delivery, logger)
}

func (p *Processor) ack(delivery queue.Delivery, logger *log.Entry) {
	if err := delivery.Ack(); err != nil {
		logger.WithError(err).Error("ack failed; job may be redelivered")
	}
}

func (p *Processor) nak(delivery queue.Delivery, logger *log.Entry) {
	if err := delivery.Nak(); err != nil {
		logger.WithError(err).Error("nak failed; job will be redelivered after the claim times out")
	}
}
