package sandbox

import "context"

// Slot owns one driver. At most one Handle is open on it at any time.
type Slot struct {
	driver Driver
	sem    chan struct{}
}

func NewSlot(driver Driver) *Slot {
	return &Slot{driver: driver, sem: make(chan struct{}, 1)}
}

func (s *Slot) ID() string {
	return s.driver.SlotID()
}

// Open waits until the slot is free and returns an uninitialized handle on
// it. The slot stays taken until the handle is torn down.
func (s *Slot) Open(ctx context.Context) (*Handle, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Handle{slot: s, state: Uninitialized}, nil
}

func (s *Slot) release() {
	<-s.sem
}
