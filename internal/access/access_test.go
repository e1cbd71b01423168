package access_test

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/quakerisk/internal/access"
	"github.com/gyaneshwarpardhi/quakerisk/internal/apperr"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newController() (*access.Controller, *clock) {
	clk := &clock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	c := access.New(access.WithClock(clk.Now), access.WithRandom(rand.New(rand.NewSource(3))))
	return c, clk
}

func TestIssue(t *testing.T) {
	c, clk := newController()
	k, err := c.Issue("user-1", "Acme Capital", "risk@acme.example", 30, 100)
	require.NoError(t, err)

	assert.True(t, k.Active)
	assert.Equal(t, 100, k.Remaining)
	assert.Equal(t, clk.Now(), k.StartTime)
	assert.Equal(t, clk.Now().AddDate(0, 0, 30), k.EndTime)
	assert.Regexp(t, `^qk_[0-9a-f]{48}$`, k.Key)
	assert.NotEmpty(t, k.ID)

	other, err := c.Issue("user-1", "Acme Capital", "risk@acme.example", 30, 100)
	require.NoError(t, err)
	assert.NotEqual(t, k.Key, other.Key)
	assert.NotEqual(t, k.ID, other.ID)
}

func TestIssue_Deterministic(t *testing.T) {
	a, _ := newController()
	b, _ := newController()
	ka, err := a.Issue("o", "org", "a@b.co", 1, 1)
	require.NoError(t, err)
	kb, err := b.Issue("o", "org", "a@b.co", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, ka.Key, kb.Key)
	assert.Equal(t, ka.ID, kb.ID)
}

func TestIssue_InvalidInput(t *testing.T) {
	c, _ := newController()
	cases := []struct {
		name                string
		owner, org, contact string
		days, limit         int
	}{
		{"bad email", "o", "org", "not-an-email", 30, 10},
		{"no owner", "", "org", "a@b.co", 30, 10},
		{"no org", "o", "", "a@b.co", 30, 10},
		{"zero duration", "o", "org", "a@b.co", 0, 10},
		{"zero limit", "o", "org", "a@b.co", 30, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Issue(tc.owner, tc.org, tc.contact, tc.days, tc.limit)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
}

func TestConsume_QuotaMonotonic(t *testing.T) {
	c, _ := newController()
	k, err := c.Issue("o", "org", "a@b.co", 30, 3)
	require.NoError(t, err)

	for _, want := range []int{2, 1, 0} {
		got, err := c.Consume(k.Key)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = c.Consume(k.Key)
	assert.ErrorIs(t, err, apperr.ErrQuotaExhausted)

	st, err := c.Validate(k.Key)
	require.NoError(t, err)
	assert.False(t, st.Valid)
	assert.Equal(t, 0, st.Remaining)
	assert.Equal(t, "QUOTA_EXHAUSTED", st.Reason)
}

func TestConsume_ConcurrentSingleBudget(t *testing.T) {
	c, _ := newController()
	k, err := c.Issue("o", "org", "a@b.co", 30, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok, exhausted atomic.Int32
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			rem, err := c.Consume(k.Key)
			switch {
			case err == nil:
				assert.Equal(t, 0, rem)
				ok.Add(1)
			case errors.Is(err, apperr.ErrQuotaExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), exhausted.Load())
}

func TestConsume_ConcurrentNeverOverspends(t *testing.T) {
	c, _ := newController()
	const budget, callers = 50, 200
	k, err := c.Issue("o", "org", "a@b.co", 30, budget)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)
	var successes atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rem, err := c.Consume(k.Key)
			if err != nil {
				return
			}
			successes.Add(1)
			mu.Lock()
			defer mu.Unlock()
			if seen[rem] {
				t.Errorf("remaining %d observed twice", rem)
			}
			if rem < 0 {
				t.Errorf("negative budget %d", rem)
			}
			seen[rem] = true
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(budget), successes.Load())
}

func TestConsume_ExpiryCheckedAtCallTime(t *testing.T) {
	c, clk := newController()
	k, err := c.Issue("o", "org", "a@b.co", 1, 10)
	require.NoError(t, err)

	_, err = c.Consume(k.Key)
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)
	_, err = c.Consume(k.Key)
	assert.ErrorIs(t, err, apperr.ErrExpired)

	st, err := c.Validate(k.Key)
	require.NoError(t, err)
	assert.False(t, st.Valid)
	assert.Equal(t, 9, st.Remaining, "expired calls must not spend budget")
}

func TestConsume_InvalidKey(t *testing.T) {
	c, _ := newController()
	_, err := c.Consume("qk_nope")
	assert.ErrorIs(t, err, apperr.ErrInvalidKey)
	_, err = c.Validate("qk_nope")
	assert.ErrorIs(t, err, apperr.ErrInvalidKey)
}

func TestValidate_IsReadOnly(t *testing.T) {
	c, _ := newController()
	k, err := c.Issue("o", "org", "a@b.co", 30, 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		st, err := c.Validate(k.Key)
		require.NoError(t, err)
		assert.True(t, st.Valid)
		assert.Equal(t, 2, st.Remaining)
		assert.Equal(t, k.EndTime, st.Expiry)
	}
}

func TestRenew(t *testing.T) {
	c, clk := newController()
	k, err := c.Issue("o", "org", "a@b.co", 10, 1)
	require.NoError(t, err)

	// additive while still active
	r, err := c.Renew(k.Key, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, k.EndTime.AddDate(0, 0, 5), r.EndTime)
	assert.Equal(t, 11, r.Remaining)
	assert.Equal(t, 11, r.RequestLimit)

	// from now once expired
	clk.Advance(30 * 24 * time.Hour)
	_, err = c.Consume(k.Key)
	require.ErrorIs(t, err, apperr.ErrExpired)
	r, err = c.Renew(k.Key, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().AddDate(0, 0, 7), r.EndTime)
	assert.Equal(t, 11, r.Remaining, "renewal never shrinks the budget")

	rem, err := c.Consume(k.Key)
	require.NoError(t, err)
	assert.Equal(t, 10, rem)

	_, err = c.Renew(k.Key, 0, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = c.Renew(k.Key, -1, 5)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestRevoke(t *testing.T) {
	c, _ := newController()
	k, err := c.Issue("o", "org", "a@b.co", 10, 5)
	require.NoError(t, err)
	require.NoError(t, c.Revoke(k.Key))

	_, err = c.Consume(k.Key)
	assert.ErrorIs(t, err, apperr.ErrInvalidKey)
	_, err = c.Renew(k.Key, 1, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidKey)
	st, err := c.Validate(k.Key)
	require.NoError(t, err)
	assert.False(t, st.Valid)
}

func TestListByOwnerAndByID(t *testing.T) {
	c, clk := newController()
	first, err := c.Issue("alice", "org", "a@b.co", 10, 5)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	second, err := c.Issue("alice", "org", "a@b.co", 10, 5)
	require.NoError(t, err)
	_, err = c.Issue("bob", "org", "b@b.co", 10, 5)
	require.NoError(t, err)

	keys := c.ListByOwner("alice")
	require.Len(t, keys, 2)
	assert.Equal(t, first.ID, keys[0].ID)
	assert.Equal(t, second.ID, keys[1].ID)

	got, err := c.ByID(second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Key, got.Key)
	_, err = c.ByID("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
