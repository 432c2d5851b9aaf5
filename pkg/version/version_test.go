package version

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", Version())
}

func TestVersion_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "dev", Version())
		}()
	}
	wg.Wait()
	assert.Empty(t, version)
}

func TestString(t *testing.T) {
	assert.Equal(t, "version: dev, commit: unknown, build: unknown", String())
}
