package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memNotificationStore struct {
	created []Notification
	err     error
}

func (m *memNotificationStore) Create(_ context.Context, n Notification) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, n)
	return nil
}

func TestEmitterStoresAndPushes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	userID := uuid.New()
	sub := client.Subscribe(context.Background(), userChannel(userID))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	store := &memNotificationStore{}
	emitter := &Emitter{
		Store:  store,
		Pusher: &Pusher{Client: client, Logger: zerolog.Nop()},
		Logger: zerolog.Nop(),
	}

	err = emitter.Emit(context.Background(), userID, TypePaymentSuccess,
		"Thanh toán thành công.", map[string]string{"orderId": uuid.NewString()})
	require.NoError(t, err)

	require.Len(t, store.created, 1)
	assert.Equal(t, TypePaymentSuccess, store.created[0].Type)
	assert.Equal(t, userID, store.created[0].UserID)

	select {
	case msg := <-sub.Channel():
		var got Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, store.created[0].ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a pushed notification")
	}
}

func TestEmitterPushFailureStaysLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	store := &memNotificationStore{}
	emitter := &Emitter{
		Store:  store,
		Pusher: &Pusher{Client: client, Logger: zerolog.Nop()},
		Logger: zerolog.Nop(),
	}

	err := emitter.Emit(context.Background(), uuid.New(), TypeCredentialDelivered, "done", nil)
	assert.NoError(t, err, "push failures must not surface to callers")
	assert.Len(t, store.created, 1)
}

func TestEmitterStoreFailurePropagates(t *testing.T) {
	store := &memNotificationStore{err: assert.AnError}
	emitter := &Emitter{Store: store, Logger: zerolog.Nop()}

	err := emitter.Emit(context.Background(), uuid.New(), TypeGeneric, "hello", nil)
	assert.Error(t, err)
}
