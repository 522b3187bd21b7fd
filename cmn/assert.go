package cmn

import "fmt"

// Assert panics if cond is false. Reserved for invariants that must never be
// false if the rest of the system is correct - not for ordinary error paths.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// AssertMsg is Assert with a formatted message attached to the panic.
func AssertMsg(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

// AssertNoErr panics if err is non-nil; reserved for errors that indicate a
// broken invariant (e.g. a corrupt on-disk structure we already validated).
func AssertNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("assertion failed: %v", err))
	}
}

// StopCh is a close-once broadcast channel, the idiomatic replacement for a
// condition variable guarding shutdown: any number of goroutines can select
// on Listen() and all wake up exactly once when Close is called.
type StopCh struct {
	ch chan struct{}
}

func NewStopCh() *StopCh {
	return &StopCh{ch: make(chan struct{})}
}

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() {
	select {
	case <-s.ch:
		// already closed
	default:
		close(s.ch)
	}
}
