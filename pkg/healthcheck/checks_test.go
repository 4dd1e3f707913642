package healthcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	assert.NoError(t, Redis(rdb)(context.Background()))

	mr.Close()
	assert.Error(t, Redis(rdb)(context.Background()))
}

func TestComposite(t *testing.T) {
	errDB := errors.New("mysql ping: refused")
	errKafka := errors.New("kafka недоступна")

	check := Composite(
		func(ctx context.Context) error { return errDB },
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errKafka },
	)

	err := check(context.Background())

	assert.ErrorIs(t, err, errDB)
	assert.ErrorIs(t, err, errKafka)
	assert.NoError(t, Composite()(context.Background()))
}
