package bidding

import (
	"sort"
	"sync"

	"auction-engine/internal/models"
)

// Publisher receives committed events in per-auction version order
type Publisher interface {
	Publish(ev models.Event)
}

// sequencer releases committed events to a Publisher in version order.
// A committer takes a ticket before reading the auction and settles it after
// its write, so the event committing version v+1 is held back until v has
// been released, or until no local write is in flight (v was committed by
// another node).
type sequencer struct {
	pub Publisher

	mu     sync.Mutex // guards topics and every seqState.refs
	topics map[string]*seqState
}

type seqState struct {
	refs int

	mu      sync.Mutex
	next    int64 // next version to publish; 0 until observed
	pending map[int64]models.Event
}

// seqTicket is one committer's hold on an auction's ordering state
type seqTicket struct {
	s    *sequencer
	id   string
	st   *seqState
	done bool
}

func newSequencer(pub Publisher) *sequencer {
	return &sequencer{pub: pub, topics: make(map[string]*seqState)}
}

// begin registers an in-flight write against the auction
func (s *sequencer) begin(id string) *seqTicket {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.topics[id]
	if !ok {
		st = &seqState{pending: make(map[int64]models.Event)}
		s.topics[id] = st
	}
	st.refs++
	return &seqTicket{s: s, id: id, st: st}
}

// observe records the version the committer read; it and everything before
// it are already committed.
func (t *seqTicket) observe(readVersion int64) {
	t.st.mu.Lock()
	if t.st.next == 0 {
		t.st.next = readVersion + 1
	}
	t.st.mu.Unlock()
}

// release hands over the event of a committed write and ends the ticket
func (t *seqTicket) release(ev models.Event) {
	if t.done {
		return
	}
	t.done = true

	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.next == 0 {
		st.next = ev.Version
	}
	st.pending[ev.Version] = ev
	t.s.drain(st)
	t.s.unref(t.id, st)
}

// abort ends a ticket whose write committed nothing
func (t *seqTicket) abort() {
	if t.done {
		return
	}
	t.done = true

	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	t.s.unref(t.id, t.st)
}

// drain publishes the contiguous run starting at next. Caller holds st.mu.
func (s *sequencer) drain(st *seqState) {
	for {
		ev, ok := st.pending[st.next]
		if !ok {
			return
		}
		delete(st.pending, st.next)
		s.pub.Publish(ev)
		st.next++
	}
}

// unref drops one in-flight write. When none remain, held events can no
// longer be preceded by a local commit and are flushed in version order.
// Caller holds st.mu.
func (s *sequencer) unref(id string, st *seqState) {
	s.mu.Lock()
	st.refs--
	idle := st.refs == 0
	s.mu.Unlock()

	if !idle {
		return
	}

	if len(st.pending) > 0 {
		versions := make([]int64, 0, len(st.pending))
		for v := range st.pending {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
		for _, v := range versions {
			s.pub.Publish(st.pending[v])
			delete(st.pending, v)
		}
		st.next = versions[len(versions)-1] + 1
	}

	s.mu.Lock()
	if st.refs == 0 && s.topics[id] == st {
		delete(s.topics, id)
	}
	s.mu.Unlock()
}

// tracked reports how many auctions currently hold ordering state
func (s *sequencer) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}
