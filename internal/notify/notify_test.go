package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func storesUnderTest(t *testing.T, max int) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"Memory": NewMemoryStore(max),
		"Redis":  NewRedisStore(client, "test", max),
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t, 3) {
		t.Run(name, func(t *testing.T) {
			list, err := store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			var ids []string
			for i := 0; i < 5; i++ {
				n, err := store.Add(ctx, Notification{Title: fmt.Sprintf("n%d", i), Type: TypeSystem})
				require.NoError(t, err)
				assert.NotEmpty(t, n.ID)
				assert.False(t, n.Timestamp.IsZero())
				ids = append(ids, n.ID)
			}

			list, err = store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "n4", list[0].Title, "newest first")
			assert.Equal(t, "n2", list[2].Title)

			count, err := store.UnreadCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			list, err = store.MarkRead(ctx, ids[3])
			require.NoError(t, err)
			assert.True(t, list[1].Read)

			count, err = store.UnreadCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			_, err = store.MarkRead(ctx, ids[0])
			assert.ErrorIs(t, err, ErrNotificationNotFound, "trimmed notifications are gone")

			list, err = store.MarkAllRead(ctx)
			require.NoError(t, err)
			for _, n := range list {
				assert.True(t, n.Read)
			}

			count, err = store.UnreadCount(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestRedisStoreConcurrentAdds(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "test", 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Add(ctx, Notification{Title: fmt.Sprintf("n%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 10)
}

type recordingPublisher struct {
	mu   sync.Mutex
	seen []Notification
}

func (p *recordingPublisher) PublishNotification(n Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, n)
}

func TestNotifier(t *testing.T) {
	publisher := &recordingPublisher{}
	notifier := NewNotifier(NewMemoryStore(50), publisher, zap.NewNop())

	n, err := notifier.Notify(context.Background(), "Chat Escalated", "Conversation CONV-2025-001 escalated", TypeEscalation)
	require.NoError(t, err)

	require.Len(t, publisher.seen, 1)
	assert.Equal(t, n.ID, publisher.seen[0].ID)
	assert.Equal(t, TypeEscalation, publisher.seen[0].Type)

	count, err := notifier.Store().UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
