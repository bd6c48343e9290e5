package sublist

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockSub struct {
	err    bool
	closed bool
	got    [][]byte
}

func (m *mockSub) Push(sender string, d []byte) error {
	if m.err {
		return errors.New("subscriber closed")
	}
	m.got = append(m.got, d)
	return nil
}

func (m *mockSub) Closed() bool {
	return m.closed
}

func (m *mockSub) Name() string {
	return "mocksub"
}

func newList(n int) (*Sublist, []*mockSub) {
	subs := NewSublist()
	mocks := make([]*mockSub, n)
	for i := range mocks {
		mocks[i] = &mockSub{}
		subs.Subscribe(mocks[i])
	}
	return subs, mocks
}

func TestNoPrune(t *testing.T) {
	subs, _ := newList(10)
	subs.Prune()
	assert.Equal(t, 10, subs.Len())
}

func TestPrune1(t *testing.T) {
	subs, mocks := newList(10)
	mocks[8].closed = true
	subs.Prune()
	assert.Equal(t, 9, subs.Len())
}

func TestPrune2(t *testing.T) {
	subs, mocks := newList(10)
	mocks[4].closed = true
	mocks[8].closed = true
	mocks[9].closed = true
	subs.Prune()
	assert.Equal(t, 7, subs.Len())
}

func TestPruneAll(t *testing.T) {
	subs, mocks := newList(3)
	for _, m := range mocks {
		m.closed = true
	}
	subs.Prune()
	assert.Equal(t, 0, subs.Len())
}

func TestSendDropsFailing(t *testing.T) {
	subs, mocks := newList(3)
	mocks[1].err = true
	subs.Send("receiver", []byte("a"))
	assert.Equal(t, 2, subs.Len())

	mocks[1].err = false
	subs.Send("receiver", []byte("b"))
	assert.Len(t, mocks[0].got, 2)
	assert.Empty(t, mocks[1].got)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, mocks[2].got)
}

func TestUnsubscribe(t *testing.T) {
	subs, mocks := newList(3)
	subs.Unsubscribe(mocks[0])
	subs.Send("receiver", []byte("a"))
	assert.Empty(t, mocks[0].got)
	assert.Equal(t, 2, subs.Len())
}

func BenchmarkSend(b *testing.B) {
	p := make([]byte, 100)
	subs, _ := newList(100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		subs.Send("mocksender", p)
	}
}
