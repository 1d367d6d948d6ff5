package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bazaar/internal/service/coupon/domain"
	"bazaar/internal/service/coupon/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// memCounterSetStore 用单把互斥锁保证每个操作的原子性，
// 语义上等价于 Redis 的 INCR/DECR/SADD 单命令原子性。
type memCounterSetStore struct {
	mu   sync.Mutex
	vals map[string]int64
	sets map[string]map[string]struct{}
	ttls map[string]time.Duration
}

func newMemCounterSetStore() *memCounterSetStore {
	return &memCounterSetStore{
		vals: make(map[string]int64),
		sets: make(map[string]map[string]struct{}),
		ttls: make(map[string]time.Duration),
	}
}

func (s *memCounterSetStore) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *memCounterSetStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	if !ok {
		return 0, errors.New("key not found")
	}
	return v, nil
}

func (s *memCounterSetStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key]++
	return s.vals[key], nil
}

func (s *memCounterSetStore) Decr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key]--
	return s.vals[key], nil
}

func (s *memCounterSetStore) SAdd(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	if _, exists := set[member]; exists {
		return false, nil
	}
	set[member] = struct{}{}
	return true, nil
}

func (s *memCounterSetStore) SRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[key]; ok {
		delete(set, member)
	}
	return nil
}

func (s *memCounterSetStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

func (s *memCounterSetStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.vals, k)
		delete(s.sets, k)
		delete(s.ttls, k)
	}
	return nil
}

func (s *memCounterSetStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttls[key] = ttl
	return nil
}

func (s *memCounterSetStore) counter(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[key]
}

func (s *memCounterSetStore) ttlOf(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

var _ port.CounterSetStore = (*memCounterSetStore)(nil)

func newTestIssuer(store port.CounterSetStore, repo domain.CouponRepository) *QuotaIssuer {
	return NewQuotaIssuer(store, repo, 30*24*time.Hour, otel.Tracer("test"))
}

func TestIssue_RequiresInitializedQuota(t *testing.T) {
	issuer := newTestIssuer(newMemCounterSetStore(), nil)

	_, err := issuer.Issue(context.Background(), "1001", "user-1")
	require.ErrorIs(t, err, port.ErrQuotaUninitialized)
}

func TestIssue_SameUserWinsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemCounterSetStore()
	issuer := newTestIssuer(store, nil)
	require.NoError(t, issuer.Initialize(ctx, "1001", 10))

	const attempts = 20
	var wg sync.WaitGroup
	var issued, duplicated int64
	var mu sync.Mutex
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := issuer.Issue(ctx, "1001", "user-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				issued++
			case errors.Is(err, port.ErrAlreadyIssued):
				duplicated++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), issued, "same user must be issued exactly once")
	assert.Equal(t, int64(attempts-1), duplicated)
	assert.Equal(t, int64(1), store.counter(countKey("1001")), "failed attempts must not leak counter slots")
}

func TestIssue_DistinctUsersNeverExceedQuota(t *testing.T) {
	ctx := context.Background()
	store := newMemCounterSetStore()
	issuer := newTestIssuer(store, nil)

	const quota = 50
	const users = 80
	require.NoError(t, issuer.Initialize(ctx, "2002", quota))

	var wg sync.WaitGroup
	var issued, exhausted int64
	var mu sync.Mutex
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%d", i)
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			_, err := issuer.Issue(ctx, "2002", uid)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				issued++
			case errors.Is(err, port.ErrExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(userID)
	}
	wg.Wait()

	assert.Equal(t, int64(quota), issued, "exactly quota issuances must succeed")
	assert.Equal(t, int64(users-quota), exhausted)
	assert.Equal(t, int64(quota), store.counter(countKey("2002")), "counter must settle at quota")
	card, err := store.SCard(ctx, issuedKey("2002"))
	require.NoError(t, err)
	assert.Equal(t, int64(quota), card, "dedup set must hold exactly the winners")
}

func TestIssue_GrantFailureRollsBackCounterAndSet(t *testing.T) {
	ctx := context.Background()
	store := newMemCounterSetStore()
	repo := &failingCouponRepo{}
	issuer := newTestIssuer(store, repo)
	require.NoError(t, issuer.Initialize(ctx, "3003", 5))

	_, err := issuer.Issue(ctx, "3003", "user-1")
	require.Error(t, err)

	assert.Equal(t, int64(0), store.counter(countKey("3003")), "counter slot must be released")
	card, err := store.SCard(ctx, issuedKey("3003"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), card, "user must be able to retry after a storage failure")

	remaining, err := issuer.Remaining(ctx, "3003")
	require.NoError(t, err)
	assert.Equal(t, int64(5), remaining)
}

func TestIssue_AllStateKeysCarryTTL(t *testing.T) {
	ctx := context.Background()
	store := newMemCounterSetStore()
	issuer := newTestIssuer(store, nil)
	require.NoError(t, issuer.Initialize(ctx, "5005", 10))

	_, err := issuer.Issue(ctx, "5005", "user-1")
	require.NoError(t, err)

	// 去重集合是发放时才建的键，同样不允许永久存活
	want := 30 * 24 * time.Hour
	assert.Equal(t, want, store.ttlOf(quotaKey("5005")))
	assert.Equal(t, want, store.ttlOf(countKey("5005")))
	assert.Equal(t, want, store.ttlOf(issuedKey("5005")))
}

func TestInitialize_ResetsPreviousRound(t *testing.T) {
	ctx := context.Background()
	store := newMemCounterSetStore()
	issuer := newTestIssuer(store, nil)

	require.NoError(t, issuer.Initialize(ctx, "4004", 2))
	_, err := issuer.Issue(ctx, "4004", "user-1")
	require.NoError(t, err)
	_, err = issuer.Issue(ctx, "4004", "user-2")
	require.NoError(t, err)
	_, err = issuer.Issue(ctx, "4004", "user-3")
	require.ErrorIs(t, err, port.ErrExhausted)

	// 重新初始化后老名单失效，之前领过的用户也能再领
	require.NoError(t, issuer.Initialize(ctx, "4004", 2))
	_, err = issuer.Issue(ctx, "4004", "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.counter(countKey("4004")))
}

type failingCouponRepo struct{}

func (r *failingCouponRepo) FindByCode(context.Context, string) (*domain.UserCoupon, error) {
	return nil, domain.ErrCouponNotFound
}

func (r *failingCouponRepo) FindTemplate(context.Context, int64) (*domain.CouponTemplate, error) {
	return nil, domain.ErrCouponNotFound
}

func (r *failingCouponRepo) GrantToUser(context.Context, *domain.UserCoupon) error {
	return errors.New("storage unavailable")
}

func (r *failingCouponRepo) MarkUsed(context.Context, string, string) (bool, error) {
	return false, nil
}

func (r *failingCouponRepo) MarkUnused(context.Context, string) (bool, error) {
	return false, nil
}
