package services

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeMember struct {
	id    string
	party uint
	full  bool

	mu     sync.Mutex
	frames []Frame
}

func (m *fakeMember) ID() string    { return m.id }
func (m *fakeMember) PartyID() uint { return m.party }

func (m *fakeMember) Deliver(f Frame) bool {
	if m.full {
		return false
	}
	m.mu.Lock()
	m.frames = append(m.frames, f)
	m.mu.Unlock()
	return true
}

func (m *fakeMember) received() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.frames...)
}

func TestConnectionRegistry_JoinLeave(t *testing.T) {
	r := NewConnectionRegistry()
	a := &fakeMember{id: "a", party: 1}
	b := &fakeMember{id: "b", party: 2}

	assert.False(t, r.Join("a", "room-1"), "unregistered client cannot join")

	r.Register(a)
	r.Register(b)
	r.Register(a)
	assert.Equal(t, 2, r.ClientCount())

	assert.True(t, r.Join("a", "room-1"))
	assert.True(t, r.Join("b", "room-1"))
	assert.True(t, r.Join("a", "room-2"))
	assert.Equal(t, 2, r.RoomCount())
	assert.Len(t, r.Members("room-1"), 2)
	assert.True(t, r.InRoom("b", "room-1"))
	assert.False(t, r.InRoom("b", "room-2"))

	assert.True(t, r.Leave("b", "room-1"))
	assert.False(t, r.Leave("b", "room-1"))
	assert.False(t, r.Leave("ghost", "room-1"))
	assert.Len(t, r.Members("room-1"), 1)

	left := r.Unregister("a")
	assert.ElementsMatch(t, []string{"room-1", "room-2"}, left)
	assert.Zero(t, r.RoomCount())
	assert.Empty(t, r.Members("room-1"))
	assert.Nil(t, r.Unregister("a"))
	assert.Equal(t, 1, r.ClientCount())
}

func TestConnectionRegistry_Concurrent(t *testing.T) {
	r := NewConnectionRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Register(&fakeMember{id: id, party: uint(i + 1)})
			r.Join(id, "shared")
			_ = r.Members("shared")
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.ClientCount())
	assert.Len(t, r.Members("shared"), 25)
}
