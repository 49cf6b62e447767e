package session

import "time"

// DefaultPreviewInterval is how long each animation frame stays on screen.
const DefaultPreviewInterval = time.Second

// previewTicker cycles the displayed frame while animation frames exist.
type previewTicker struct {
	stop chan struct{}
}

func (o *Orchestrator) previewWanted() bool {
	if len(o.session.AnimationFrames) == 0 {
		return false
	}
	return o.session.Stage == StageAnimation || o.session.Stage == StageComplete
}

// syncPreviewLocked starts or stops the ticker to match the session. The
// caller holds o.mu.
func (o *Orchestrator) syncPreviewLocked() {
	want := o.previewWanted()
	switch {
	case want && o.preview == nil:
		t := &previewTicker{stop: make(chan struct{})}
		o.preview = t
		go o.runPreview(t)
	case !want && o.preview != nil:
		close(o.preview.stop)
		o.preview = nil
	}
}

func (o *Orchestrator) stopPreview() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.preview != nil {
		close(o.preview.stop)
		o.preview = nil
	}
}

func (o *Orchestrator) runPreview(t *previewTicker) {
	ticker := time.NewTicker(o.opts.PreviewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			o.advancePreview(t)
		}
	}
}

func (o *Orchestrator) advancePreview(t *previewTicker) {
	o.mu.Lock()
	// A stopped ticker must not touch frames of a session that has moved on.
	if o.preview != t || len(o.session.AnimationFrames) == 0 {
		o.mu.Unlock()
		return
	}
	o.session.PreviewFrame = (o.session.PreviewFrame + 1) % len(o.session.AnimationFrames)
	frame := o.session.PreviewFrame
	o.mu.Unlock()

	if o.opts.Observer != nil {
		o.opts.Observer.PreviewAdvanced(frame)
	}
}
