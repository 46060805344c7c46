package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRunTransfers(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu   sync.Mutex
		seen []int
	)

	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	err := runTransfers(items, 3, func(i int) error {
		mu.Lock()
		seen = append(seen, i)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, items, seen)
}

func TestRunTransfersErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32

	err := runTransfers([]int{0, 1, 2, 3, 4, 5, 6, 7}, 4, func(i int) error {
		calls.Add(1)
		if i%4 == 3 {
			time.Sleep(time.Duration(8-i) * time.Millisecond)
			return fmt.Errorf("item %d failed", i)
		}
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 3 failed")
	assert.Contains(t, err.Error(), "item 7 failed")
	assert.EqualValues(t, 8, calls.Load())
}

func TestRunTransfersBounded(t *testing.T) {
	defer goleak.VerifyNone(t)

	var active, peak atomic.Int32

	err := runTransfers(make([]struct{}, 20), 2, func(struct{}) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunTransfersEmpty(t *testing.T) {
	called := false
	require.NoError(t, runTransfers(nil, 4, func(int) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}
