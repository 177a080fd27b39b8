package keymutex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyMutexSerializesSameKey(t *testing.T) {
	var km KeyMutex
	var counter int64
	var maxObserved int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("server-a")
			defer km.Unlock("server-a")
			n := atomic.AddInt64(&counter, 1)
			if n > atomic.LoadInt64(&maxObserved) {
				atomic.StoreInt64(&maxObserved, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&counter, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), maxObserved, "concurrent holders of the same key should never overlap")
}

func TestKeyMutexDoesNotSerializeDifferentKeys(t *testing.T) {
	var km KeyMutex
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make(chan time.Duration, 2)

	for _, key := range []string{"server-a", "server-b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			<-start
			begin := time.Now()
			km.Lock(key)
			defer km.Unlock(key)
			time.Sleep(30 * time.Millisecond)
			results <- time.Since(begin)
		}(key)
	}

	close(start)
	wg.Wait()
	close(results)

	for d := range results {
		assert.Less(t, d, 60*time.Millisecond, "unrelated keys should not block each other")
	}
}
