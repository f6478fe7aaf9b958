package natsq

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roamerhq/roamer/pkg/worker"
)

// The worker writes its terminal error reply on the delivery after its last
// planning attempt, so the consumer must allow one delivery beyond that or a
// job naking on its final attempt vanishes without a reply.
func TestDefaultMaxDeliverCoversTerminalReply(t *testing.T) {
	assert.Equal(t, worker.DefaultConfig().MaxAttempts+1, defaultMaxDeliver)
}
