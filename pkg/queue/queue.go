// Package queue defines the durable job channel between the intake gateway
// and the planning workers. Backends provide at-least-once delivery: a job
// dequeued but not acked is eventually redelivered, so consumers must make
// their effects idempotent.
package queue

import (
	"context"

	"github.com/pkg/errors"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
)

// ErrClosed is returned by Dequeue when the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Delivery is one received job. Exactly one of Ack or Nak should be called:
// Ack after the job's effects are durable, Nak to request redelivery.
type Delivery interface {
	Job() *v1.Job

	// Attempt is the 1-based delivery count, including this delivery.
	Attempt() int

	Ack() error
	Nak() error
}

// Queue is a durable FIFO job channel.
type Queue interface {
	// Enqueue makes the job durable. It deduplicates on the job's
	// (thread_id, request_id), so retrying a submission after a transient
	// failure cannot queue the same work twice.
	Enqueue(ctx context.Context, job *v1.Job) error

	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Delivery, error)

	Close() error
}
