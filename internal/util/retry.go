package util

import (
	"context"
	crand "crypto/rand"
	"math/big"
	"time"
)

// Retry executes fn until it returns retry=false, the timeout elapses or ctx
// is done. It waits with jittered exponential backoff (200ms doubling, capped
// at 2s) between attempts and surfaces the last error.
func Retry(ctx context.Context, timeout time.Duration, fn func() (retry bool, err error)) error {
	deadline := time.Now().Add(timeout)
	backoff := 200 * time.Millisecond

	for {
		retry, err := fn()
		if !retry || time.Now().After(deadline) {
			return err
		}
		t := time.NewTimer(jitter(backoff))
		select {
		case <-ctx.Done():
			t.Stop()
			if err != nil {
				return err
			}
			return ctx.Err()
		case <-t.C:
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

// jitter returns a duration in [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	n, err := crand.Int(crand.Reader, big.NewInt(int64(half)))
	if err != nil {
		return d
	}
	return half + time.Duration(n.Int64())
}
