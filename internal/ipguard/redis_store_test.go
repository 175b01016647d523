package ipguard_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/ipguard"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// startRedis launches a throwaway Redis or skips when Docker is unavailable
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	var container *tcredis.RedisContainer
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Skipf("docker unavailable: %v", r)
			}
		}()
		var err error
		container, err = tcredis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
		if err != nil {
			t.Skipf("docker unavailable: %v", err)
		}
	}()
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func TestRedisStore(t *testing.T) {
	url := startRedis(t)

	store, err := ipguard.NewRedisStore(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runStoreContract(t, store)
}

func TestRedisStore_TTLAndPrefix(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	store := ipguard.NewRedisStoreFromClient(client, "test:")
	rec := &models.BlockRecord{IP: "1.2.3.4", BlockedUntil: time.Now().Add(time.Minute)}
	require.NoError(t, store.Update(ctx, "1.2.3.4", func(s *ipguard.AddressState) (bool, error) {
		s.Block, s.BlockTTL = rec, time.Minute
		return true, nil
	}))

	ttl, err := client.TTL(ctx, "test:block:1.2.3.4").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	// Writing back an edited window leaves the block's expiry alone
	require.NoError(t, store.Update(ctx, "1.2.3.4", func(s *ipguard.AddressState) (bool, error) {
		s.Window, s.WindowTTL = &models.FailureWindow{IP: "1.2.3.4"}, time.Minute
		return true, nil
	}))
	ttl, err = client.TTL(ctx, "test:block:1.2.3.4").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	n, err := store.IncrRegistrations(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ttl, err = client.TTL(ctx, "test:reg:1.2.3.4").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "registration counters never expire")
}

func TestRedisStore_SharedBetweenGuards(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	newGuard := func() *ipguard.Guard {
		store, err := ipguard.NewRedisStore(ctx, url)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return ipguard.NewGuard(store, ipguard.DefaultConfig(), discardLogger())
	}
	guards := []*ipguard.Guard{newGuard(), newGuard()}

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, isNew, err := guards[i%2].RecordFailure(ctx, "1.2.3.4", "", fmt.Sprintf("u%d@x.com", i))
			assert.NoError(t, err)
			if isNew {
				created.Add(1)
			}
		}(i)
	}
	wg.Wait()

	blocked, err := guards[1].IsBlocked(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, blocked, "concurrent failures from every instance count toward one threshold")
	assert.Equal(t, int32(1), created.Load())
}

func TestRedisStore_AdmitAcrossInstances(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	newThrottle := func() *ipguard.RegistrationThrottle {
		store, err := ipguard.NewRedisStore(ctx, url)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return ipguard.NewRegistrationThrottle(store, 2)
	}
	throttles := []*ipguard.RegistrationThrottle{newThrottle(), newThrottle()}

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = throttles[i%2].Admit(ctx, "1.2.3.4", func() error {
				created.Add(1)
				return nil
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(2), created.Load())
}
