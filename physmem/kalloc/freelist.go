package kalloc

import "sync"

// FreeList is the pool of unused page frames, kept as a stack of frame
// indices. The most recently freed frame is handed out first.
type FreeList struct {
	mu     sync.Mutex
	frames []uint32
}

// NewFreeList returns an empty list with room for capacity frames.
func NewFreeList(capacity int) *FreeList {
	return &FreeList{frames: make([]uint32, 0, capacity)}
}

// Push returns a frame to the pool.
func (fl *FreeList) Push(frame uint32) {
	fl.mu.Lock()
	fl.frames = append(fl.frames, frame)
	fl.mu.Unlock()
}

// Pop removes a frame from the pool. If claim is non-nil it runs with the
// list still locked, so the frame is never observable as neither free nor
// owned. Pop reports false when the pool is empty.
func (fl *FreeList) Pop(claim func(frame uint32)) (uint32, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	n := len(fl.frames)
	if n == 0 {
		return 0, false
	}
	frame := fl.frames[n-1]
	fl.frames = fl.frames[:n-1]
	if claim != nil {
		claim(frame)
	}
	return frame, true
}

// Len returns the number of free frames.
func (fl *FreeList) Len() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return len(fl.frames)
}

// copyFrames returns a copy of the pool. Callers hold fl.mu.
func (fl *FreeList) copyFrames() []uint32 {
	out := make([]uint32, len(fl.frames))
	copy(out, fl.frames)
	return out
}
