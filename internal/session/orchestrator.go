package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Action names a user-facing orchestrator command.
type Action string

const (
	ActionStart           Action = "start"
	ActionRegenerateScene Action = "regenerate scene"
	ActionAcceptScene     Action = "accept scene"
	ActionRetryMusic      Action = "retry music"
	ActionSkipMusic       Action = "skip music"
	ActionReset           Action = "reset"
)

// ErrClosed is returned for commands submitted after Run has exited.
var ErrClosed = errors.New("orchestrator stopped")

// Observer is notified of session changes. Callbacks run outside the
// orchestrator's lock and must not block for long.
type Observer interface {
	SessionChanged(s Session)
	PreviewAdvanced(frame int)
}

// Options configures an Orchestrator.
type Options struct {
	// Frames is the length of the animation chain.
	Frames int
	// PreviewInterval is the preview ticker period.
	PreviewInterval time.Duration
	// RequestTimeout bounds each gateway call; zero means no bound.
	RequestTimeout time.Duration
	Observer       Observer
}

type command struct {
	action Action
	run    func(ctx context.Context) error
	done   chan error
}

// Orchestrator drives a single Session through its stages. Commands are
// executed one at a time by Run, so at most one gateway call is in flight.
//
// Public commands block until the command settles. They return an error
// only when the command is rejected (validation, transition, busy);
// generation failures are recorded on the Session as LastError.
type Orchestrator struct {
	gateway  Gateway
	opts     Options
	commands chan command
	closed   chan struct{}

	mu       sync.RWMutex
	session  Session
	musicReq *MusicRequest
	queued   int
	cancel   context.CancelFunc
	preview  *previewTicker
}

// New creates an orchestrator in the setup stage. Call Run before issuing
// commands.
func New(gateway Gateway, opts Options) *Orchestrator {
	opts.Frames = ClampFrames(opts.Frames)
	if opts.PreviewInterval <= 0 {
		opts.PreviewInterval = DefaultPreviewInterval
	}
	return &Orchestrator{
		gateway:  gateway,
		opts:     opts,
		commands: make(chan command),
		closed:   make(chan struct{}),
		session:  Session{Stage: StageSetup},
	}
}

// Run executes queued commands until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.closed)
	defer o.stopPreview()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-o.commands:
			o.execute(ctx, cmd)
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, cmd command) {
	cmdCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	err := cmd.run(cmdCtx)
	cancel()

	o.mu.Lock()
	o.cancel = nil
	o.queued--
	o.mu.Unlock()
	o.notify()

	cmd.done <- err
}

func (o *Orchestrator) submit(ctx context.Context, action Action, run func(context.Context) error) error {
	cmd := command{action: action, run: run, done: make(chan error, 1)}

	o.mu.Lock()
	o.queued++
	o.mu.Unlock()

	select {
	case o.commands <- cmd:
	case <-o.closed:
		o.dequeue()
		return ErrClosed
	case <-ctx.Done():
		o.dequeue()
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) dequeue() {
	o.mu.Lock()
	o.queued--
	o.mu.Unlock()
}

// Snapshot returns a copy of the current session.
func (o *Orchestrator) Snapshot() Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Session {
	s := o.session.clone()
	s.Busy = o.queued > 0
	s.Progress = float64(len(s.AnimationFrames)) / float64(o.opts.Frames)
	return s
}

// Frames returns the configured animation chain length.
func (o *Orchestrator) Frames() int {
	return o.opts.Frames
}

func (o *Orchestrator) notify() {
	if o.opts.Observer == nil {
		return
	}
	o.opts.Observer.SessionChanged(o.Snapshot())
}

// Check reports whether action would currently be accepted, without
// running it.
func (o *Orchestrator) Check(action Action) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if action != ActionReset && o.queued > 0 {
		return ErrBusy
	}
	return o.checkLocked(action)
}

func (o *Orchestrator) checkLocked(action Action) error {
	s := o.session
	ok := true
	switch action {
	case ActionStart:
		ok = s.Stage == StageSetup
	case ActionRegenerateScene:
		ok = s.Stage == StageScene
	case ActionAcceptScene:
		ok = s.Stage.CanTransition(StageAnimation) && s.SceneImage != nil
	case ActionRetryMusic:
		ok = s.Stage == StageMusic
	case ActionSkipMusic:
		ok = s.Stage.CanTransition(StageComplete)
	}
	if !ok {
		return &TransitionError{From: s.Stage, Action: action}
	}
	return nil
}

// Start validates setup and, from the setup stage, requests the base scene.
func (o *Orchestrator) Start(ctx context.Context, setup Setup) error {
	if err := ValidateSetup(setup); err != nil {
		return err
	}
	setup.Prompt = strings.TrimSpace(setup.Prompt)
	setup.Instruments = append([]string(nil), setup.Instruments...)

	return o.submit(ctx, ActionStart, func(ctx context.Context) error {
		o.mu.Lock()
		if err := o.checkLocked(ActionStart); err != nil {
			o.mu.Unlock()
			return err
		}
		o.session = Session{Setup: setup, Stage: StageScene}
		o.musicReq = nil
		o.syncPreviewLocked()
		o.mu.Unlock()

		o.generateScene(ctx)
		return nil
	})
}

// RegenerateScene discards the current scene and requests a new one.
func (o *Orchestrator) RegenerateScene(ctx context.Context) error {
	return o.submit(ctx, ActionRegenerateScene, func(ctx context.Context) error {
		o.mu.RLock()
		err := o.checkLocked(ActionRegenerateScene)
		o.mu.RUnlock()
		if err != nil {
			return err
		}
		o.generateScene(ctx)
		return nil
	})
}

// AcceptScene generates the animation chain from the accepted scene and
// then the music track.
func (o *Orchestrator) AcceptScene(ctx context.Context) error {
	return o.submit(ctx, ActionAcceptScene, func(ctx context.Context) error {
		o.mu.Lock()
		if err := o.checkLocked(ActionAcceptScene); err != nil {
			o.mu.Unlock()
			return err
		}
		o.session.Stage = StageAnimation
		o.session.AnimationFrames = nil
		o.session.PreviewFrame = 0
		o.session.LastError = nil
		scene := *o.session.SceneImage
		setup := o.session.Setup
		o.syncPreviewLocked()
		o.mu.Unlock()
		o.notify()

		if !o.animate(ctx, setup, scene) {
			return nil
		}

		o.mu.Lock()
		o.session.Stage = StageMusic
		o.musicReq = &MusicRequest{Text: MusicText(setup), DurationSeconds: setup.DurationSeconds}
		o.syncPreviewLocked()
		o.mu.Unlock()
		o.notify()

		o.generateMusic(ctx)
		return nil
	})
}

// RetryMusic re-issues the identical music request.
func (o *Orchestrator) RetryMusic(ctx context.Context) error {
	return o.submit(ctx, ActionRetryMusic, func(ctx context.Context) error {
		o.mu.RLock()
		err := o.checkLocked(ActionRetryMusic)
		o.mu.RUnlock()
		if err != nil {
			return err
		}
		o.generateMusic(ctx)
		return nil
	})
}

// SkipMusic completes the session without audio.
func (o *Orchestrator) SkipMusic(ctx context.Context) error {
	return o.submit(ctx, ActionSkipMusic, func(ctx context.Context) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		if err := o.checkLocked(ActionSkipMusic); err != nil {
			return err
		}
		o.session.Stage = StageComplete
		o.session.MusicStreamRef = nil
		o.session.LastError = nil
		o.syncPreviewLocked()
		return nil
	})
}

// Reset cancels any in-flight request and returns the session to its
// initial state.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	return o.submit(ctx, ActionReset, func(context.Context) error {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.session = Session{Stage: StageSetup}
		o.musicReq = nil
		o.syncPreviewLocked()
		return nil
	})
}

func (o *Orchestrator) generateScene(ctx context.Context) {
	o.mu.Lock()
	o.session.SceneImage = nil
	o.session.LastError = nil
	setup := o.session.Setup
	o.mu.Unlock()
	o.notify()

	res, err := o.generateImage(ctx, ImageRequest{
		Prompt:      setup.Prompt,
		Instruments: setup.Instruments,
		Style:       StyleBase,
	})
	if ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	if err != nil {
		o.session.LastError = newStageError(StageScene, err)
	} else {
		img := res.Image
		o.session.SceneImage = &img
	}
	o.mu.Unlock()
	o.notify()
}

// animate requests frames 1..N, each conditioned on the previous output. It
// reports whether the whole chain was generated.
func (o *Orchestrator) animate(ctx context.Context, setup Setup, scene ImageRef) bool {
	reference := scene
	for n := 1; n <= o.opts.Frames; n++ {
		if ctx.Err() != nil {
			return false
		}
		ref := reference
		res, err := o.generateImage(ctx, ImageRequest{
			Prompt:      FramePrompt(setup.Prompt, n),
			Instruments: setup.Instruments,
			Style:       StyleAnimation,
			Reference:   &ref,
			FrameNumber: n,
		})
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			o.mu.Lock()
			o.session.LastError = newStageError(StageAnimation, err)
			o.mu.Unlock()
			o.notify()
			return false
		}

		o.mu.Lock()
		o.session.AnimationFrames = append(o.session.AnimationFrames, res.Image)
		o.syncPreviewLocked()
		o.mu.Unlock()
		o.notify()

		reference = res.Image
	}
	return true
}

func (o *Orchestrator) generateMusic(ctx context.Context) {
	o.mu.Lock()
	o.session.LastError = nil
	o.session.MusicStreamRef = nil
	if o.musicReq == nil {
		o.musicReq = &MusicRequest{Text: MusicText(o.session.Setup), DurationSeconds: o.session.DurationSeconds}
	}
	req := *o.musicReq
	o.mu.Unlock()
	o.notify()

	ref, err := o.generateTrack(ctx, req)
	if ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	if err != nil {
		o.session.LastError = newStageError(StageMusic, err)
	} else {
		o.session.MusicStreamRef = ref
		o.session.Stage = StageComplete
		o.syncPreviewLocked()
	}
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) generateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if o.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RequestTimeout)
		defer cancel()
	}
	return o.gateway.GenerateImage(ctx, req)
}

func (o *Orchestrator) generateTrack(ctx context.Context, req MusicRequest) (*MusicRef, error) {
	if o.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RequestTimeout)
		defer cancel()
	}
	return o.gateway.GenerateMusic(ctx, req)
}
