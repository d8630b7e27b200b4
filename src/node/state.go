package node

import (
	"sync"
	"sync/atomic"
	"time"
)

// State captures the lifecycle of a Node.
type State uint32

const (
	// Initial is the state of a node that was not started.
	Initial State = iota
	// Running nodes serve connections and run their loops.
	Running
	// Shutdown nodes are stopped for good.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case Running:
		return "Running"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// goFunc starts f in a tracked goroutine. It reports false when the limit of
// concurrent goroutines is reached and f was not started.
func (b *state) goFunc(f func()) bool {
	if atomic.AddInt32(&b.wgCount, 1) > WGLIMIT {
		atomic.AddInt32(&b.wgCount, -1)
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
	return true
}

// waitRoutines waits for the tracked goroutines and reports whether they all
// returned before timeout fired.
func (b *state) waitRoutines(timeout <-chan time.Time) bool {
	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-timeout:
		return false
	}
}
