package replay

import (
	"fmt"

	"github.com/willibrandon/ChronoState/pkg/recorder"
	"github.com/willibrandon/ChronoState/pkg/stream"
)

// Frame is one captured state on a timeline.
type Frame struct {
	Index int
	Data  []byte
}

// Timeline keeps captured states in memory so a simulation can be moved
// back and forth between them.
type Timeline struct {
	opts       Options
	frames     []Frame
	currentIdx int
}

// NewTimeline creates an empty timeline.
func NewTimeline(opts Options) *Timeline {
	return &Timeline{
		opts:       opts.normalize(),
		currentIdx: -1,
	}
}

// Capture saves the simulation's state as a new frame after the current one.
// Frames after the current one are discarded first, so capturing after
// stepping back starts a new branch.
func (t *Timeline) Capture(sim Simulation) (int, error) {
	t.frames = t.frames[:t.currentIdx+1]

	rec, buf := recorder.NewBuffered(t.opts.recorderOptions()...)
	rec.BeginPass()
	if err := sim.SaveState(rec, t.opts.Flags); err != nil {
		return t.currentIdx, fmt.Errorf("capture frame %d: %w", len(t.frames), err)
	}
	t.opts.Metrics.IncPass("capture")

	t.frames = append(t.frames, Frame{Index: len(t.frames), Data: buf.Bytes()})
	t.currentIdx = len(t.frames) - 1
	return t.currentIdx, nil
}

// Seek restores the simulation to frame idx.
func (t *Timeline) Seek(idx int, sim Simulation) error {
	if idx < 0 || idx >= len(t.frames) {
		return fmt.Errorf("frame %d out of range [0, %d)", idx, len(t.frames))
	}
	rec := recorder.New(nil, stream.NewBuffer(t.frames[idx].Data), t.opts.recorderOptions()...)
	rec.BeginPass()
	if err := sim.RestoreState(rec, t.opts.Flags); err != nil {
		return fmt.Errorf("restore frame %d: %w", idx, err)
	}
	t.opts.Metrics.IncPass("restore")
	t.currentIdx = idx
	return nil
}

// StepBackward restores the frame before the current one and returns its index.
func (t *Timeline) StepBackward(sim Simulation) (int, error) {
	if t.currentIdx <= 0 {
		return t.currentIdx, fmt.Errorf("already at the beginning")
	}
	if err := t.Seek(t.currentIdx-1, sim); err != nil {
		return t.currentIdx, err
	}
	return t.currentIdx, nil
}

// StepForward restores the frame after the current one and returns its index.
func (t *Timeline) StepForward(sim Simulation) (int, error) {
	if t.currentIdx >= len(t.frames)-1 {
		return t.currentIdx, fmt.Errorf("already at the end")
	}
	if err := t.Seek(t.currentIdx+1, sim); err != nil {
		return t.currentIdx, err
	}
	return t.currentIdx, nil
}

// CurrentIndex returns the current frame index, or -1 if nothing was captured.
func (t *Timeline) CurrentIndex() int {
	return t.currentIdx
}

// Frames returns all captured frames
func (t *Timeline) Frames() []Frame {
	return t.frames
}

// Len returns the number of frames.
func (t *Timeline) Len() int {
	return len(t.frames)
}
