package reqlog

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAddAndOrder(t *testing.T) {
	b := NewBuffer(5)

	for i := 0; i < 3; i++ {
		b.Add(Entry{URL: fmt.Sprintf("/r%d", i)})
	}

	entries := b.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "/r0", entries[0].URL)
	assert.Equal(t, "/r2", entries[2].URL)
	assert.Equal(t, 3, b.Len())
}

func TestBufferEvictsOldest(t *testing.T) {
	b := NewBuffer(3)

	for i := 0; i < 7; i++ {
		b.Add(Entry{URL: fmt.Sprintf("/r%d", i)})
	}

	entries := b.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "/r4", entries[0].URL)
	assert.Equal(t, "/r5", entries[1].URL)
	assert.Equal(t, "/r6", entries[2].URL)
}

func TestBufferEntriesIsACopy(t *testing.T) {
	b := NewBuffer(3)
	b.Add(Entry{URL: "/a"})

	entries := b.Entries()
	entries[0].URL = "/mutated"

	assert.Equal(t, "/a", b.Entries()[0].URL)
}

func TestBufferMinimumCapacity(t *testing.T) {
	b := NewBuffer(0)
	b.Add(Entry{URL: "/a"})
	b.Add(Entry{URL: "/b"})

	entries := b.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "/b", entries[0].URL)
}

func TestBufferConcurrentAdds(t *testing.T) {
	b := NewBuffer(100)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Add(Entry{URL: "/x"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, b.Len())
}

func TestNewEntryDefaults(t *testing.T) {
	e := NewEntry("info", "server started")

	assert.Equal(t, "-", e.Method)
	assert.Equal(t, "-", e.URL)
	assert.Equal(t, "info", e.Level)
	assert.Equal(t, "server started", e.Body)
	assert.NotEmpty(t, e.Timestamp)
}
