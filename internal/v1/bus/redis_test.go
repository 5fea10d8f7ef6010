package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_ConnectionFailure(t *testing.T) {
	_, err := NewService("localhost:1", "")
	assert.Error(t, err)
}

func TestPublish_DeliversEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, eventsChannel)
	defer ps.Close()
	_, err = ps.Receive(ctx) // wait for the subscription to be live
	require.NoError(t, err)

	require.NoError(t, svc.Publish(ctx, "match_created", map[string]string{
		"room_id": "r1",
	}))

	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)

	var env EventPayload
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, "match_created", env.Event)
	assert.NotZero(t, env.Timestamp)

	var inner map[string]string
	require.NoError(t, json.Unmarshal(env.Payload, &inner))
	assert.Equal(t, "r1", inner["room_id"])
}

func TestPublish_NilServiceIsNoop(t *testing.T) {
	var svc *Service
	assert.NoError(t, svc.Publish(context.Background(), "anything", nil))
	assert.NoError(t, svc.Ping(context.Background()))
	assert.NoError(t, svc.Close())
	assert.Nil(t, svc.Client())
}

func TestPing(t *testing.T) {
	mr := miniredis.RunT(t)
	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)
	defer svc.Close()

	assert.NoError(t, svc.Ping(context.Background()))
}

func TestClient_ExposesUnderlyingConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)
	defer svc.Close()

	require.NotNil(t, svc.Client())
	assert.NoError(t, svc.Client().Ping(context.Background()).Err())
}
