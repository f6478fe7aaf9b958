// Package redisq is the Redis list implementation of queue.Queue. Jobs are
// LPUSHed onto a request list and moved to a per-deployment processing list
// with BRPOPLPUSH; acking removes the processing entry. A reaper requeues
// processing entries whose claim has gone stale, which is what turns a worker
// crash into a redelivery instead of a lost job.
package redisq

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	redis "gopkg.in/redis.v5"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
	"github.com/roamerhq/roamer/pkg/queue"
)

const (
	defaultRequestsKey   = "roamer:trip:requests"
	defaultProcessingKey = "roamer:trip:requests:processing"
	defaultClaimsKey     = "roamer:trip:requests:claims"
	defaultDedupPrefix   = "roamer:trip:request:"

	// popTimeout bounds each BRPOPLPUSH so Dequeue can notice a canceled
	// context; redis.v5 commands are not context-aware themselves.
	popTimeout = 2 * time.Second
)

// Options tunes the queue. Zero values get sane defaults.
type Options struct {
	RequestsKey   string
	ProcessingKey string
	ClaimsKey     string
	DedupPrefix   string

	// DedupTTL is how long an enqueue idempotency token lives.
	DedupTTL time.Duration

	// ClaimTimeout is how long a dequeued job may stay unacked before the
	// reaper requeues it.
	ClaimTimeout time.Duration

	// ReapInterval is how often the reaper scans for stale claims.
	ReapInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.RequestsKey == "" {
		o.RequestsKey = defaultRequestsKey
	}
	if o.ProcessingKey == "" {
		o.ProcessingKey = defaultProcessingKey
	}
	if o.ClaimsKey == "" {
		o.ClaimsKey = defaultClaimsKey
	}
	if o.DedupPrefix == "" {
		o.DedupPrefix = defaultDedupPrefix
	}
	if o.DedupTTL == 0 {
		o.DedupTTL = 24 * time.Hour
	}
	if o.ClaimTimeout == 0 {
		o.ClaimTimeout = 3 * time.Minute
	}
	if o.ReapInterval == 0 {
		o.ReapInterval = 30 * time.Second
	}
}

// envelope wraps a job with its delivery count so redeliveries are visible
// to the consumer.
type envelope struct {
	Job        *v1.Job `json:"job"`
	Deliveries int     `json:"deliveries"`
}

type Queue struct {
	client *redis.Client
	opts   Options
}

// New connects to Redis at url (redis:// form, as with the cache client).
func New(url string, opts Options) (*Queue, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opts.applyDefaults()

	return &Queue{
		client: redis.NewClient(parsed),
		opts:   opts,
	}, nil
}

func (q *Queue) dedupKey(job *v1.Job) string {
	return q.opts.DedupPrefix + job.ThreadID + ":" + job.RequestID
}

// Enqueue pushes the job unless an idempotency token for the same
// (thread_id, request_id) already exists. The token is only kept when the
// push succeeds, so a failed enqueue can be retried with the same request id.
func (q *Queue) Enqueue(_ context.Context, job *v1.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	token := q.dedupKey(job)
	armed, err := q.client.SetNX(token, "1", q.opts.DedupTTL).Result()
	if err != nil {
		return errors.Wrap(err, "set enqueue token")
	}
	if !armed {
		log.WithFields(log.Fields{
			"request_id": job.RequestID,
			"thread_id":  job.ThreadID,
		}).Info("duplicate enqueue suppressed")
		return nil
	}

	payload, err := json.Marshal(envelope{Job: job, Deliveries: 0})
	if err != nil {
		q.client.Del(token)
		return errors.Wrap(err, "marshal job")
	}
	if err := q.client.LPush(q.opts.RequestsKey, string(payload)).Err(); err != nil {
		// Drop the token so a retry of the submission can enqueue.
		q.client.Del(token)
		return errors.Wrap(err, "push job")
	}
	return nil
}

// Dequeue blocks until a job arrives or ctx is done. The job is parked on the
// processing list and its claim timestamped for the reaper.
func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := q.client.BRPopLPush(q.opts.RequestsKey, q.opts.ProcessingKey, popTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "pop job")
		}

		if err := q.client.HSet(q.opts.ClaimsKey, payload, strconv.FormatInt(time.Now().Unix(), 10)).Err(); err != nil {
			log.WithError(err).Warn("failed to record job claim")
		}

		var env envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil || env.Job == nil {
			// Poison entry: discard it rather than wedge the queue.
			log.WithError(err).Error("dropping unparseable queue entry")
			q.discard(payload)
			continue
		}

		return &delivery{queue: q, payload: payload, env: env}, nil
	}
}

// Reap requeues processing entries whose claim is older than ClaimTimeout,
// bumping their delivery count. Returns how many were requeued.
func (q *Queue) Reap() (int, error) {
	claims, err := q.client.HGetAll(q.opts.ClaimsKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "list claims")
	}

	cutoff := time.Now().Add(-q.opts.ClaimTimeout).Unix()
	requeued := 0
	for payload, claimedAt := range claims {
		ts, err := strconv.ParseInt(claimedAt, 10, 64)
		if err != nil || ts > cutoff {
			continue
		}

		removed, err := q.client.LRem(q.opts.ProcessingKey, 1, payload).Result()
		if err != nil || removed == 0 {
			// Someone acked it between our scan and now.
			q.client.HDel(q.opts.ClaimsKey, payload)
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil || env.Job == nil {
			q.client.HDel(q.opts.ClaimsKey, payload)
			continue
		}
		env.Deliveries++

		requeuedPayload, err := json.Marshal(env)
		if err != nil {
			q.client.HDel(q.opts.ClaimsKey, payload)
			continue
		}
		if err := q.client.LPush(q.opts.RequestsKey, string(requeuedPayload)).Err(); err != nil {
			log.WithError(err).Error("failed to requeue stale job")
			continue
		}
		q.client.HDel(q.opts.ClaimsKey, payload)
		requeued++

		log.WithFields(log.Fields{
			"request_id": env.Job.RequestID,
			"deliveries": env.Deliveries,
		}).Warn("requeued stale in-flight job")
	}
	return requeued, nil
}

// Run drives the reaper until ctx is done. Suitable as a daemon process next
// to the worker pool.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Reap(); err != nil {
				log.WithError(err).Error("queue reap failed")
			}
		}
	}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) discard(payload string) {
	q.client.LRem(q.opts.ProcessingKey, 1, payload)
	q.client.HDel(q.opts.ClaimsKey, payload)
}

type delivery struct {
	queue   *Queue
	payload string
	env     envelope
}

func (d *delivery) Job() *v1.Job {
	return d.env.Job
}

func (d *delivery) Attempt() int {
	return d.env.Deliveries + 1
}

func (d *delivery) Ack() error {
	d.queue.discard(d.payload)
	return nil
}

// Nak returns the job to the request list with its delivery count bumped.
func (d *delivery) Nak() error {
	d.queue.discard(d.payload)

	env := d.env
	env.Deliveries++
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal requeued job")
	}
	return d.queue.client.LPush(d.queue.opts.RequestsKey, string(payload)).Err()
}
