package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_LatestValueWins(t *testing.T) {
	m := NewMailbox()

	assert.False(t, m.Put(1))
	assert.True(t, m.Put(2))
	assert.True(t, m.Put(3))
	assert.True(t, m.Pending())

	v, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.False(t, m.Pending())
	assert.Equal(t, uint64(2), m.Dropped())
}

func TestMailbox_TakeBlocksUntilPut(t *testing.T) {
	m := NewMailbox()
	got := make(chan any, 1)

	go func() {
		v, _ := m.Take()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Take returned before Put")
	case <-time.After(20 * time.Millisecond):
	}

	m.Put("frame")
	select {
	case v := <-got:
		assert.Equal(t, "frame", v)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not wake after Put")
	}
}

func TestMailbox_CloseWakesTaker(t *testing.T) {
	m := NewMailbox()
	done := make(chan bool, 1)

	go func() {
		_, ok := m.Take()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	m.Close()
	m.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not return after Close")
	}

	assert.False(t, m.Put(1))
	_, ok := m.Take()
	assert.False(t, ok)
}
