// Copyright 2021 Converter Systems LLC. All rights reserved.

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrdering(t *testing.T) {
	assert := assert.New(t)
	q := New[int](0)

	for i := 1; i <= 3; i++ {
		assert.NoError(q.EnqueueBack(i))
	}
	assert.NoError(q.EnqueueFront(0))
	assert.NoError(q.EnqueueFront(-1))
	assert.Equal(5, q.Len())

	for _, want := range []int{-1, 0, 1, 2, 3} {
		got, err := q.DequeueNonBlocking()
		assert.NoError(err)
		assert.Equal(want, got)
	}
	_, err := q.DequeueNonBlocking()
	assert.ErrorIs(err, ErrWouldBlock)
}

func TestQueueCapacity(t *testing.T) {
	assert := assert.New(t)
	q := New[string](2)

	assert.NoError(q.EnqueueBack("a"))
	assert.NoError(q.EnqueueBack("b"))
	assert.ErrorIs(q.EnqueueBack("c"), ErrFull)
	assert.ErrorIs(q.EnqueueFront("c"), ErrFull)

	v, err := q.DequeueBlocking()
	assert.NoError(err)
	assert.Equal("a", v)
	assert.NoError(q.EnqueueFront("c"))
}

func TestQueueCloseWakesDequeuers(t *testing.T) {
	q := New[int](0)
	const waiters = 4

	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.DequeueBlocking()
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	q.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.ErrorIs(t, q.EnqueueBack(1), ErrClosed)
	assert.ErrorIs(t, q.EnqueueFront(1), ErrClosed)
	_, err := q.DequeueNonBlocking()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueueCloseReturnsPending(t *testing.T) {
	q := New[int](0)
	require.NoError(t, q.EnqueueBack(1))
	require.NoError(t, q.EnqueueBack(2))
	assert.Equal(t, []int{1, 2}, q.Close())
	assert.Nil(t, q.Close())
}

func TestQueueNoDoubleDelivery(t *testing.T) {
	const producers, perProducer = 4, 1000
	q := New[int](0)

	var consumed sync.Map
	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.DequeueBlocking()
				if err != nil {
					return
				}
				if _, dup := consumed.LoadOrStore(v, true); dup {
					t.Errorf("element %d delivered twice", v)
				}
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.EnqueueBack(p*perProducer+i))
			}
		}(p)
	}
	pwg.Wait()

	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	q.Close()
	wg.Wait()

	count := 0
	consumed.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, producers*perProducer, count)
}

func TestQueueFIFOPerProducer(t *testing.T) {
	q := New[int](0)
	done := make(chan []int)
	go func() {
		var got []int
		for {
			v, err := q.DequeueBlocking()
			if err != nil {
				done <- got
				return
			}
			got = append(got, v)
		}
	}()
	for i := 0; i < 100; i++ {
		require.NoError(t, q.EnqueueBack(i))
	}
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	q.Close()
	got := <-done
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Len(t, got, 100)
}
