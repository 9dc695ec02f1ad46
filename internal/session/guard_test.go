package session

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

// 并发场景下只有一个调用方能占用执行权
func TestGuardClaimOnce(t *testing.T) {
	g := NewGuard()

	var claims int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Claim() {
				atomic.AddInt32(&claims, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claims)
	assert.True(t, g.Claimed())
}

func TestGuardReset(t *testing.T) {
	g := NewGuard()
	assert.True(t, g.Claim())
	assert.False(t, g.Claim())

	g.Reset()
	assert.True(t, g.Claim())
}
