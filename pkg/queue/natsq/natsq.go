// Package natsq is the NATS JetStream implementation of queue.Queue, for
// deployments that already run NATS instead of Redis. A work-queue stream
// with an explicit-ack durable consumer gives the same at-least-once
// semantics the Redis backend provides; enqueue deduplication rides on
// JetStream message ids.
package natsq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
	"github.com/roamerhq/roamer/pkg/queue"
)

const (
	defaultStream   = "ROAMER_TRIPS"
	defaultSubject  = "roamer.trip.requests"
	defaultConsumer = "planning-worker"

	// ackWait allows for slow retrieval and generation before a redelivery.
	ackWait = 180 * time.Second

	// defaultMaxDeliver is one more than the worker's planning attempts: the
	// extra delivery is what carries the terminal error reply when a job naks
	// on its last planning attempt.
	defaultMaxDeliver = 4

	// dedupWindow matches the Redis backend's idempotency token TTL so a late
	// duplicate submission is suppressed the same way on both backends.
	dedupWindow = 24 * time.Hour
)

// Options tune the JetStream consumer.
type Options struct {
	// MaxDeliver bounds deliveries of one job. Keep it above the worker's
	// planning attempts or the terminal reply for a nak'd final attempt is
	// never written.
	MaxDeliver int
}

type Queue struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	subject  string
}

// New connects to NATS, ensures the work-queue stream and durable consumer
// exist, and returns the queue.
func New(ctx context.Context, url string, opts Options) (*Queue, error) {
	if opts.MaxDeliver <= 0 {
		opts.MaxDeliver = defaultMaxDeliver
	}

	conn, err := nats.Connect(url, nats.Name("roamer"))
	if err != nil {
		return nil, errors.Wrap(err, "connect to nats")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "get jetstream")
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       defaultStream,
		Subjects:   []string{defaultSubject},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: dedupWindow,
	})
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "create stream %s", defaultStream)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    defaultConsumer,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    ackWait,
		MaxDeliver: opts.MaxDeliver,
	})
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "create consumer")
	}

	return &Queue{
		conn:     conn,
		js:       js,
		consumer: consumer,
		subject:  defaultSubject,
	}, nil
}

// Enqueue publishes the job with a message id of thread_id:request_id;
// JetStream's dedup window suppresses repeats.
func (q *Queue) Enqueue(ctx context.Context, job *v1.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}

	_, err = q.js.Publish(ctx, q.subject, payload,
		jetstream.WithMsgID(job.ThreadID+":"+job.RequestID))
	if err != nil {
		return errors.Wrap(err, "publish job")
	}
	return nil
}

// Dequeue fetches one message at a time, blocking in short bounded fetches
// so a canceled context is noticed promptly.
func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgs, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).Debug("jetstream fetch error")
			continue
		}

		for msg := range msgs.Messages() {
			var job v1.Job
			if err := json.Unmarshal(msg.Data(), &job); err != nil {
				log.WithError(err).Error("dropping unparseable queue entry")
				if termErr := msg.Term(); termErr != nil {
					log.WithError(termErr).Warn("failed to terminate poison message")
				}
				continue
			}

			attempt := 1
			if meta, err := msg.Metadata(); err == nil {
				attempt = int(meta.NumDelivered)
			}
			return &delivery{msg: msg, job: &job, attempt: attempt}, nil
		}

		if err := msgs.Error(); err != nil && err != context.DeadlineExceeded {
			log.WithError(err).Warn("jetstream fetch error")
		}
	}
}

func (q *Queue) Close() error {
	q.conn.Close()
	return nil
}

type delivery struct {
	msg     jetstream.Msg
	job     *v1.Job
	attempt int
}

func (d *delivery) Job() *v1.Job { return d.job }

func (d *delivery) Attempt() int { return d.attempt }

func (d *delivery) Ack() error { return d.msg.Ack() }

func (d *delivery) Nak() error { return d.msg.Nak() }
