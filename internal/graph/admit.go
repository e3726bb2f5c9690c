package graph

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Admitter hands out execution permits: one global slot per concurrent task
// plus an independent sub-limit per resource class. A task runs only while
// it holds both. Waiting is non-busy; a pending acquire is released by
// cancelling the context.
type Admitter struct {
	global  *semaphore.Weighted
	classes map[ResourceClass]*semaphore.Weighted
}

// NewAdmitter builds an admitter with the given global and per-class
// limits. Limits below one are raised to one so a misconfigured class can
// never wedge the run.
func NewAdmitter(maxParallel int64, classLimits map[ResourceClass]int64) *Admitter {
	a := &Admitter{
		global:  semaphore.NewWeighted(max64(maxParallel, 1)),
		classes: make(map[ResourceClass]*semaphore.Weighted, len(classLimits)),
	}
	for class, limit := range classLimits {
		a.classes[class] = semaphore.NewWeighted(max64(limit, 1))
	}
	return a
}

// Admit blocks until both the global slot and the class slot are free, or
// the context is cancelled. Global first, class second, so class permits
// are never held while queueing globally.
func (a *Admitter) Admit(ctx context.Context, class ResourceClass) error {
	if err := a.global.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring global task slot: %w", err)
	}
	sem, ok := a.classes[class]
	if !ok {
		return nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		a.global.Release(1)
		return fmt.Errorf("acquiring %s slot: %w", class, err)
	}
	return nil
}

// TryAdmit acquires both permits without blocking. It reports false, having
// taken nothing, when either slot is busy.
func (a *Admitter) TryAdmit(class ResourceClass) bool {
	if !a.global.TryAcquire(1) {
		return false
	}
	sem, ok := a.classes[class]
	if !ok {
		return true
	}
	if !sem.TryAcquire(1) {
		a.global.Release(1)
		return false
	}
	return true
}

// Release returns both permits for the class.
func (a *Admitter) Release(class ResourceClass) {
	if sem, ok := a.classes[class]; ok {
		sem.Release(1)
	}
	a.global.Release(1)
}

func max64(v, floor int64) int64 {
	if v < floor {
		return floor
	}
	return v
}
