package middleware

import (
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func TestMissIsNil(t *testing.T) {
	// An absent key is not an error to fiber.Storage
	val, err := missIsNil(nil, redis.Nil)
	assert.Nil(t, val)
	assert.NoError(t, err)

	// Real errors pass through untouched
	broken := errors.New("connection refused")
	val, err = missIsNil(nil, broken)
	assert.Nil(t, val)
	assert.Equal(t, broken, err)

	// Hits pass through untouched
	val, err = missIsNil([]byte("3"), nil)
	assert.Equal(t, []byte("3"), val)
	assert.NoError(t, err)
}
