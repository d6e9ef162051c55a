package connection

import (
	"sync"

	"github.com/DarsheeeGamer/NetConduit/protocol"
)

// pendingResult is what lands in a pending call's completion slot: the
// response frame, or the error that killed the call.
type pendingResult struct {
	frame *protocol.Frame
	err   error
}

// pendingTable tracks outstanding RPC calls by correlation id. A slot is
// created before the request frame is enqueued and released exactly once:
// by the matching response, by timeout cleanup, or by failAll when the
// connection dies.
type pendingTable struct {
	mu    sync.Mutex
	slots map[uint64]chan pendingResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[uint64]chan pendingResult)}
}

func (p *pendingTable) create(correlation uint64) <-chan pendingResult {
	slot := make(chan pendingResult, 1)

	p.mu.Lock()
	p.slots[correlation] = slot
	p.mu.Unlock()

	return slot
}

// complete delivers a response frame to its slot. It reports whether a
// pending call claimed the correlation id.
func (p *pendingTable) complete(correlation uint64, frame *protocol.Frame) bool {
	p.mu.Lock()
	slot, ok := p.slots[correlation]
	if ok {
		delete(p.slots, correlation)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}

	slot <- pendingResult{frame: frame}
	return true
}

// remove drops a slot without completing it. Used on timeout so a late
// response cannot be misdelivered to a reused correlation id.
func (p *pendingTable) remove(correlation uint64) {
	p.mu.Lock()
	delete(p.slots, correlation)
	p.mu.Unlock()
}

// failAll completes every outstanding slot with err.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	slots := p.slots
	p.slots = make(map[uint64]chan pendingResult)
	p.mu.Unlock()

	for _, slot := range slots {
		slot <- pendingResult{err: err}
	}
}

func (p *pendingTable) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.slots)
}
