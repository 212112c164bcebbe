package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializer_PreservesSubmissionOrder(t *testing.T) {
	s := NewSerializer()
	const n = 50

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	gate := make(chan struct{})

	// 第一个操作阻塞，保证其余操作都在它之后排队
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Do("k", func() error {
			<-gate
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)

	for i := 1; i < n; i++ {
		prev := tailOf(s, "k")
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do("k", func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// 等本次操作入队后再提交下一个，提交顺序即 i 的顺序
		require.Eventually(t, func() bool { return tailOf(s, "k") != prev }, time.Second, 100*time.Microsecond)
	}
	close(gate)
	wg.Wait()

	require.Len(t, order, n)
	for i := range order {
		assert.Equal(t, i, order[i])
	}
	assert.Equal(t, 0, s.Pending())
}

func tailOf(s *Serializer, key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tails[key]
}

func TestSerializer_DifferentKeysDoNotBlock(t *testing.T) {
	s := NewSerializer()
	gate := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = s.Do("a", func() error {
			<-gate
			return nil
		})
		close(done)
	}()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)

	ran := false
	require.NoError(t, s.Do("b", func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	close(gate)
	<-done
}

func TestSerializer_FailureDoesNotPoisonQueue(t *testing.T) {
	s := NewSerializer()
	boom := errors.New("boom")

	assert.ErrorIs(t, s.Do("k", func() error { return boom }), boom)
	assert.NoError(t, s.Do("k", func() error { return nil }))

	assert.Panics(t, func() {
		_ = s.Do("k", func() error { panic("bad mutation") })
	})
	assert.NoError(t, s.Do("k", func() error { return nil }))
	assert.Equal(t, 0, s.Pending())
}
