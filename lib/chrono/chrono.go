package chrono

import (
	"sync"
	"time"
)

// API is the clock everything time-dependent in the engine reads from, so
// throttling windows and cache expiry can be driven deterministically in tests.
type API interface {
	Now() time.Time
}

type StandardImpl struct{}

func NewStandardImpl() StandardImpl {
	return StandardImpl{}
}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

// Fake is a manually advanced clock.
type Fake struct {
	mutex sync.Mutex
	now   time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) Set(t time.Time) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = t
}
