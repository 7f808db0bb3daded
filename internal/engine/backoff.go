package engine

import (
	"math/rand"
	"sync"
	"time"
)

const jitterWindow = time.Minute

var (
	jitterMu     sync.Mutex
	jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// retryDelay computes the backoff before the next attempt:
// 2^(attempts+1) minutes-worth of seconds plus up to a minute of jitter, so
// a burst of failures does not retry as a thundering herd.
func retryDelay(attempts int) time.Duration {
	base := time.Duration(1<<uint(attempts+1)) * time.Minute

	jitterMu.Lock()
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	jitterMu.Unlock()

	return base + jitter
}
