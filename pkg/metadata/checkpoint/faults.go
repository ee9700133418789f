package checkpoint

import (
	"errors"
	"fmt"
	"sync"
)

// FaultPoint names a place in the checkpoint protocol where a failure can
// be injected.
type FaultPoint int

const (
	// FaultBeforeRoll fails before the roll request is sent.
	FaultBeforeRoll FaultPoint = iota + 1
	// FaultAfterRoll fails after the roll, before anything is fetched.
	FaultAfterRoll
	// FaultTruncateDownload delivers only half of the primary's image.
	FaultTruncateDownload
	// FaultAfterMerge fails after the merged image is saved locally,
	// before the upload.
	FaultAfterMerge
	// FaultTruncateUpload sends half of the merged image while declaring
	// its full length.
	FaultTruncateUpload
	// FaultAfterUpload fails after the upload, before the adoption request.
	FaultAfterUpload
)

func (p FaultPoint) String() string {
	switch p {
	case FaultBeforeRoll:
		return "before-roll"
	case FaultAfterRoll:
		return "after-roll"
	case FaultTruncateDownload:
		return "truncate-download"
	case FaultAfterMerge:
		return "after-merge"
	case FaultTruncateUpload:
		return "truncate-upload"
	case FaultAfterUpload:
		return "after-upload"
	default:
		return fmt.Sprintf("fault(%d)", int(p))
	}
}

// ErrInjected is wrapped by every error produced by a fault.
var ErrInjected = errors.New("injected fault")

// Faults decides whether a failure is injected at a point. A non-nil
// return triggers the fault.
type Faults interface {
	Fault(p FaultPoint) error
}

// NoFaults never injects anything.
type NoFaults struct{}

// Fault implements Faults.
func (NoFaults) Fault(FaultPoint) error { return nil }

// FaultSet injects armed faults, each a limited number of times.
type FaultSet struct {
	mu    sync.Mutex
	armed map[FaultPoint]int
}

// NewFaultSet returns a set with the given points armed once each.
func NewFaultSet(points ...FaultPoint) *FaultSet {
	fs := &FaultSet{armed: make(map[FaultPoint]int)}
	for _, p := range points {
		fs.armed[p]++
	}
	return fs
}

// Arm makes p fire on its next n checks.
func (fs *FaultSet) Arm(p FaultPoint, n int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.armed[p] = n
}

// Disarm clears p.
func (fs *FaultSet) Disarm(p FaultPoint) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.armed, p)
}

// Armed reports whether p will fire on its next check.
func (fs *FaultSet) Armed(p FaultPoint) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.armed[p] > 0
}

// Fault implements Faults.
func (fs *FaultSet) Fault(p FaultPoint) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.armed[p] <= 0 {
		return nil
	}
	fs.armed[p]--
	return fmt.Errorf("%s: %w", p, ErrInjected)
}
