package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestAttemptOf(t *testing.T) {
	assert.Equal(t, 1, attemptOf(nil))
	assert.Equal(t, 1, attemptOf(amqp.Table{}))
	assert.Equal(t, 1, attemptOf(amqp.Table{attemptHeader: "three"}))
	assert.Equal(t, 3, attemptOf(amqp.Table{attemptHeader: int32(3)}))
	assert.Equal(t, 4, attemptOf(amqp.Table{attemptHeader: int64(4)}))
}
