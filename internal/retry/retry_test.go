package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, BaseDelay: time.Millisecond}
}

func TestDo_SucceedsAfterKFailures(t *testing.T) {
	for k := 0; k < 3; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			var attempts []int
			p := fastPolicy(3)
			p.OnRetry = func(attempt int, err error) {
				attempts = append(attempts, attempt)
				assert.EqualError(t, err, "transient")
			}

			calls := 0
			got, err := Do(context.Background(), p, func(context.Context) (string, error) {
				calls++
				if calls <= k {
					return "", errors.New("transient")
				}
				return "ok", nil
			})

			require.NoError(t, err)
			assert.Equal(t, "ok", got)
			assert.Equal(t, k+1, calls)
			require.Len(t, attempts, k)
			for i, a := range attempts {
				assert.Equal(t, i+1, a)
			}
		})
	}
}

func TestDo_ExhaustedReturnsLastError(t *testing.T) {
	var observed int
	p := fastPolicy(2)
	p.OnRetry = func(int, error) { observed++ }

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("failure %d", calls)
	})

	assert.EqualError(t, err, "failure 3")
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, observed)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("unknown subagent")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, sentinel, err)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour}
	p.OnRetry = func(int, error) { cancel() }

	calls := 0
	start := time.Now()
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("network down")
	})

	assert.EqualError(t, err, "network down")
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, fastPolicy(3), func(context.Context) (int, error) {
		t.Fatal("must not run")
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	p := Policy{BaseDelay: time.Second}
	assert.Equal(t, time.Second, p.backoff(0))
	assert.Equal(t, 2*time.Second, p.backoff(1))
	assert.Equal(t, 4*time.Second, p.backoff(2))

	p.MaxDelay = 3 * time.Second
	assert.Equal(t, 3*time.Second, p.backoff(2))
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
