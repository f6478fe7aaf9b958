package flags

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/roamerhq/roamer/pkg/queue"
	"github.com/roamerhq/roamer/pkg/queue/natsq"
	"github.com/roamerhq/roamer/pkg/queue/redisq"
)

const (
	QueueBackendRedis = "redis"
	QueueBackendNATS  = "nats"
)

// QueueFlags selects and configures the job queue backend.
type QueueFlags struct {
	Backend      string
	RedisURL     string
	NATSURL      string
	ClaimTimeout time.Duration

	// MaxDeliver is the NATS backend's redelivery bound. The work command
	// sets it to one more than its planning attempts so the final delivery
	// can carry a terminal reply; zero keeps the backend default.
	MaxDeliver int
}

func NewQueueFlags() *QueueFlags {
	redisURL := os.Getenv("ROAMER_QUEUE_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	natsURL := os.Getenv("ROAMER_QUEUE_NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	return &QueueFlags{
		Backend:      QueueBackendRedis,
		RedisURL:     redisURL,
		NATSURL:      natsURL,
		ClaimTimeout: 3 * time.Minute,
	}
}

func (f *QueueFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Backend, "queue-backend", f.Backend, "Job queue backend (redis or nats)")
	fs.StringVar(&f.RedisURL, "queue-redis-url", f.RedisURL, "Redis URL for the job queue")
	fs.StringVar(&f.NATSURL, "queue-nats-url", f.NATSURL, "NATS URL for the job queue")
	fs.DurationVar(&f.ClaimTimeout, "queue-claim-timeout", f.ClaimTimeout,
		"How long a dequeued job may stay unacked before redelivery (redis backend)")
}

func (f *QueueFlags) Validate() error {
	switch f.Backend {
	case QueueBackendRedis, QueueBackendNATS:
		return nil
	}
	return fmt.Errorf("unknown queue backend: %s", f.Backend)
}

// GetQueue connects the selected backend.
func (f *QueueFlags) GetQueue(ctx context.Context) (queue.Queue, error) {
	switch f.Backend {
	case QueueBackendNATS:
		return natsq.New(ctx, f.NATSURL, natsq.Options{MaxDeliver: f.MaxDeliver})
	default:
		return redisq.New(f.RedisURL, redisq.Options{ClaimTimeout: f.ClaimTimeout})
	}
}
