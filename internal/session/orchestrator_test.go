package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeGateway struct {
	mu         sync.Mutex
	imageCalls []ImageRequest
	musicCalls []MusicRequest
	scenes     int

	failScene bool
	failFrame int
	musicErrs []error

	// blockFrame makes that frame wait until its context is canceled.
	blockFrame int
	blocked    chan struct{}
}

func (g *fakeGateway) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	g.mu.Lock()
	g.imageCalls = append(g.imageCalls, req)
	g.mu.Unlock()

	if req.Style == StyleBase {
		if g.failScene {
			return nil, &UpstreamError{Message: "model overloaded"}
		}
		g.mu.Lock()
		g.scenes++
		n := g.scenes
		g.mu.Unlock()
		return &ImageResult{Image: Embedded([]byte(fmt.Sprintf("scene-%d", n)), "image/png")}, nil
	}

	if req.FrameNumber == g.blockFrame {
		close(g.blocked)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if req.FrameNumber == g.failFrame {
		return nil, &UpstreamError{Status: 500, Message: "frame failed"}
	}
	return &ImageResult{Image: Embedded([]byte(fmt.Sprintf("frame-%d", req.FrameNumber)), "image/png")}, nil
}

func (g *fakeGateway) GenerateMusic(ctx context.Context, req MusicRequest) (*MusicRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.musicCalls = append(g.musicCalls, req)
	if len(g.musicErrs) > 0 {
		err := g.musicErrs[0]
		g.musicErrs = g.musicErrs[1:]
		return nil, err
	}
	return &MusicRef{StreamURL: "/api/generate-music?text=x"}, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	stages  []Stage
	ticks   int
	changes int
}

func (r *recordingObserver) SessionChanged(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
	if len(r.stages) == 0 || r.stages[len(r.stages)-1] != s.Stage {
		r.stages = append(r.stages, s.Stage)
	}
}

func (r *recordingObserver) PreviewAdvanced(int) {
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
}

func startOrchestrator(t *testing.T, gw Gateway, opts Options) *Orchestrator {
	t.Helper()
	o := New(gw, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)
	t.Cleanup(cancel)
	return o
}

func rainySetup() Setup {
	return Setup{Prompt: "Rainy night studying", Instruments: []string{"piano"}, DurationSeconds: 30}
}

func TestStart_IssuesOneBaseImageRequest(t *testing.T) {
	gw := &fakeGateway{}
	o := startOrchestrator(t, gw, Options{Frames: 3})

	if err := o.Start(context.Background(), rainySetup()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s := o.Snapshot()
	if s.Stage != StageScene {
		t.Errorf("expected stage scene, got %s", s.Stage)
	}
	if s.SceneImage == nil || string(s.SceneImage.Data) != "scene-1" {
		t.Errorf("expected scene-1 image, got %+v", s.SceneImage)
	}
	if len(gw.imageCalls) != 1 {
		t.Fatalf("expected 1 image request, got %d", len(gw.imageCalls))
	}
	req := gw.imageCalls[0]
	if req.Style != StyleBase || req.Prompt != "Rainy night studying" || req.Reference != nil || req.FrameNumber != 0 {
		t.Errorf("unexpected base request: %+v", req)
	}
	if len(req.Instruments) != 1 || req.Instruments[0] != "piano" {
		t.Errorf("unexpected instruments: %v", req.Instruments)
	}
}

func TestStart_ValidationBlocksRequests(t *testing.T) {
	cases := map[string]Setup{
		"empty prompt":    {Prompt: "   ", Instruments: []string{"piano"}, DurationSeconds: 30},
		"no instruments":  {Prompt: "chill", DurationSeconds: 30},
		"long prompt":     {Prompt: strings.Repeat("a", 101), Instruments: []string{"piano"}, DurationSeconds: 30},
		"short duration":  {Prompt: "chill", Instruments: []string{"piano"}, DurationSeconds: 5},
		"unknown catalog": {Prompt: "chill", Instruments: []string{"kazoo"}, DurationSeconds: 30},
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			gw := &fakeGateway{}
			o := startOrchestrator(t, gw, Options{Frames: 3})

			err := o.Start(context.Background(), setup)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if Classify(err) != KindValidation {
				t.Errorf("expected validation kind, got %s", Classify(err))
			}
			if len(gw.imageCalls) != 0 {
				t.Errorf("expected no requests, got %d", len(gw.imageCalls))
			}
			if o.Snapshot().Stage != StageSetup {
				t.Errorf("expected stage setup, got %s", o.Snapshot().Stage)
			}
		})
	}
}

func TestAcceptScene_ChainsEachFrameFromItsPredecessor(t *testing.T) {
	gw := &fakeGateway{}
	obs := &recordingObserver{}
	o := startOrchestrator(t, gw, Options{Observer: obs})
	ctx := context.Background()

	if err := o.Start(ctx, rainySetup()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	scene := *o.Snapshot().SceneImage

	if err := o.AcceptScene(ctx); err != nil {
		t.Fatalf("AcceptScene: %v", err)
	}

	s := o.Snapshot()
	if len(s.AnimationFrames) != DefaultFrames {
		t.Fatalf("expected %d frames, got %d", DefaultFrames, len(s.AnimationFrames))
	}
	if s.Progress != 1 {
		t.Errorf("expected progress 1, got %v", s.Progress)
	}

	frames := gw.imageCalls[1:]
	if len(frames) != DefaultFrames {
		t.Fatalf("expected %d frame requests, got %d", DefaultFrames, len(frames))
	}
	for i, req := range frames {
		n := i + 1
		if req.FrameNumber != n || req.Style != StyleAnimation {
			t.Errorf("frame %d: unexpected request %+v", n, req)
		}
		if req.Reference == nil {
			t.Fatalf("frame %d: missing reference", n)
		}
		want := scene.Data
		if n > 1 {
			want = s.AnimationFrames[n-2].Data
		}
		if !bytes.Equal(req.Reference.Data, want) {
			t.Errorf("frame %d: reference %q, want %q", n, req.Reference.Data, want)
		}
		if !strings.HasPrefix(req.Prompt, "Rainy night studying - Animation frame ") {
			t.Errorf("frame %d: unexpected prompt %q", n, req.Prompt)
		}
	}

	if len(gw.musicCalls) != 1 {
		t.Fatalf("expected 1 music request, got %d", len(gw.musicCalls))
	}
	music := gw.musicCalls[0]
	if !strings.Contains(music.Text, "piano") || !strings.Contains(music.Text, "Rainy night studying") {
		t.Errorf("unexpected music text %q", music.Text)
	}
	if music.DurationSeconds != 30 {
		t.Errorf("expected duration 30, got %d", music.DurationSeconds)
	}
	if s.Stage != StageComplete || s.MusicStreamRef == nil {
		t.Errorf("expected complete with music, got %s %+v", s.Stage, s.MusicStreamRef)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	musicEntries := 0
	for _, st := range obs.stages {
		if st == StageMusic {
			musicEntries++
		}
	}
	if musicEntries != 1 {
		t.Errorf("expected one transition to music, got stages %v", obs.stages)
	}
}

func TestAcceptScene_FrameCountNeverExceedsCap(t *testing.T) {
	gw := &fakeGateway{}
	o := startOrchestrator(t, gw, Options{Frames: 30})
	ctx := context.Background()

	if err := o.Start(ctx, rainySetup()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.AcceptScene(ctx); err != nil {
		t.Fatalf("AcceptScene: %v", err)
	}

	s := o.Snapshot()
	if len(s.AnimationFrames) != MaxFrames {
		t.Fatalf("expected %d frames, got %d", MaxFrames, len(s.AnimationFrames))
	}
	for _, req := range gw.imageCalls[1:] {
		if req.FrameNumber > MaxFrames {
			t.Errorf("requested frame %d beyond %d", req.FrameNumber, MaxFrames)
		}
	}
}

func TestAcceptScene_FrameFailureKeepsPrefix(t *testing.T) {
	gw := &fakeGateway{failFrame: 3}
	o := startOrchestrator(t, gw, Options{Frames: 5})
	ctx := context.Background()

	_ = o.Start(ctx, rainySetup())
	if err := o.AcceptScene(ctx); err != nil {
		t.Fatalf("AcceptScene: %v", err)
	}

	s := o.Snapshot()
	if len(s.AnimationFrames) != 2 {
		t.Errorf("expected 2 frames kept, got %d", len(s.AnimationFrames))
	}
	if s.Stage != StageAnimation {
		t.Errorf("expected stage animation, got %s", s.Stage)
	}
	if s.LastError == nil || s.LastError.Stage != StageAnimation {
		t.Fatalf("expected animation error, got %+v", s.LastError)
	}
	if len(gw.musicCalls) != 0 {
		t.Errorf("expected no music request, got %d", len(gw.musicCalls))
	}

	err := o.RetryMusic(ctx)
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Errorf("expected transition error for music retry, got %v", err)
	}
}

func TestSceneFailure_StaysInSceneUntilRegenerated(t *testing.T) {
	gw := &fakeGateway{failScene: true}
	o := startOrchestrator(t, gw, Options{Frames: 2})
	ctx := context.Background()

	_ = o.Start(ctx, rainySetup())
	s := o.Snapshot()
	if s.Stage != StageScene || s.SceneImage != nil {
		t.Fatalf("expected scene without image, got %s %+v", s.Stage, s.SceneImage)
	}
	if s.LastError == nil || s.LastError.Message != "There was an error creating your study scene" {
		t.Fatalf("unexpected error %+v", s.LastError)
	}

	var terr *TransitionError
	if err := o.AcceptScene(ctx); !errors.As(err, &terr) {
		t.Fatalf("expected accept to be rejected, got %v", err)
	}

	gw.failScene = false
	if err := o.RegenerateScene(ctx); err != nil {
		t.Fatalf("RegenerateScene: %v", err)
	}
	s = o.Snapshot()
	if s.SceneImage == nil || s.LastError != nil {
		t.Errorf("expected regenerated scene and cleared error, got %+v %+v", s.SceneImage, s.LastError)
	}
}

func TestRegenerateScene_ReplacesImage(t *testing.T) {
	gw := &fakeGateway{}
	o := startOrchestrator(t, gw, Options{Frames: 2})
	ctx := context.Background()

	_ = o.Start(ctx, rainySetup())
	_ = o.RegenerateScene(ctx)

	s := o.Snapshot()
	if string(s.SceneImage.Data) != "scene-2" {
		t.Errorf("expected scene-2, got %q", s.SceneImage.Data)
	}
	if len(gw.imageCalls) != 2 {
		t.Errorf("expected 2 base requests, got %d", len(gw.imageCalls))
	}
}

func TestMusic_RetryReissuesIdenticalRequest(t *testing.T) {
	gw := &fakeGateway{musicErrs: []error{&UpstreamError{Code: CodeUpstreamRejected, Status: 402, Message: "limited_access"}}}
	o := startOrchestrator(t, gw, Options{Frames: 2})
	ctx := context.Background()

	_ = o.Start(ctx, rainySetup())
	_ = o.AcceptScene(ctx)

	s := o.Snapshot()
	if s.Stage != StageMusic || s.LastError == nil {
		t.Fatalf("expected music stage with error, got %s %+v", s.Stage, s.LastError)
	}
	if !strings.Contains(s.LastError.Message, "paid ElevenLabs plan") {
		t.Errorf("unexpected message %q", s.LastError.Message)
	}

	if err := o.RetryMusic(ctx); err != nil {
		t.Fatalf("RetryMusic: %v", err)
	}
	s = o.Snapshot()
	if len(gw.musicCalls) != 2 || gw.musicCalls[0] != gw.musicCalls[1] {
		t.Errorf("expected identical music requests, got %+v", gw.musicCalls)
	}
	if s.Stage != StageComplete || s.MusicStreamRef == nil || s.LastError != nil {
		t.Errorf("expected completed session with music, got %+v", s)
	}
}

func TestMusic_SkipCompletesWithoutAudio(t *testing.T) {
	gw := &fakeGateway{musicErrs: []error{ErrUpstreamUnavailable}}
	o := startOrchestrator(t, gw, Options{Frames: 2})
	ctx := context.Background()

	_ = o.Start(ctx, rainySetup())
	_ = o.AcceptScene(ctx)

	s := o.Snapshot()
	if s.LastError == nil || s.LastError.Kind != KindUpstreamUnavailable {
		t.Fatalf("expected unavailable error, got %+v", s.LastError)
	}
	if s.LastError.Message != "Please configure your ElevenLabs API key in Project Settings" {
		t.Errorf("unexpected message %q", s.LastError.Message)
	}

	if err := o.SkipMusic(ctx); err != nil {
		t.Fatalf("SkipMusic: %v", err)
	}
	s = o.Snapshot()
	if s.Stage != StageComplete || s.MusicStreamRef != nil || s.LastError != nil {
		t.Errorf("expected complete without music, got %+v", s)
	}
}

func TestReset_ReturnsEveryFieldToInitial(t *testing.T) {
	gw := &fakeGateway{}
	o := startOrchestrator(t, gw, Options{Frames: 2, PreviewInterval: time.Millisecond})
	ctx := context.Background()

	_ = o.Start(ctx, rainySetup())
	_ = o.AcceptScene(ctx)
	if o.Snapshot().Stage != StageComplete {
		t.Fatalf("expected complete, got %s", o.Snapshot().Stage)
	}

	if err := o.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	s := o.Snapshot()
	if s.Stage != StageSetup || s.Prompt != "" || len(s.Instruments) != 0 || s.DurationSeconds != 0 {
		t.Errorf("expected cleared setup, got %+v", s)
	}
	if s.SceneImage != nil || len(s.AnimationFrames) != 0 || s.MusicStreamRef != nil || s.LastError != nil {
		t.Errorf("expected cleared media, got %+v", s)
	}
	if s.PreviewFrame != 0 || s.Progress != 0 {
		t.Errorf("expected cleared preview, got frame %d progress %v", s.PreviewFrame, s.Progress)
	}

	o.mu.RLock()
	running := o.preview != nil
	o.mu.RUnlock()
	if running {
		t.Error("expected preview ticker to be stopped")
	}

	if err := o.Start(ctx, rainySetup()); err != nil {
		t.Errorf("expected a new session to start after reset, got %v", err)
	}
}

func TestReset_CancelsInFlightAnimation(t *testing.T) {
	gw := &fakeGateway{blockFrame: 2, blocked: make(chan struct{})}
	o := startOrchestrator(t, gw, Options{Frames: 4})
	ctx := context.Background()

	_ = o.Start(ctx, rainySetup())

	acceptDone := make(chan error, 1)
	go func() { acceptDone <- o.AcceptScene(ctx) }()

	select {
	case <-gw.blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("frame 2 was never requested")
	}

	if err := o.Check(ActionAcceptScene); !errors.Is(err, ErrBusy) {
		t.Errorf("expected busy while animating, got %v", err)
	}
	if !o.Snapshot().Busy {
		t.Error("expected snapshot to report busy")
	}

	if err := o.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := <-acceptDone; err != nil {
		t.Errorf("AcceptScene returned %v", err)
	}

	s := o.Snapshot()
	if s.Stage != StageSetup || len(s.AnimationFrames) != 0 || s.LastError != nil || s.Busy {
		t.Errorf("expected pristine session after reset, got %+v", s)
	}
}

func TestTransitions_RejectOutOfOrderCommands(t *testing.T) {
	gw := &fakeGateway{}
	o := startOrchestrator(t, gw, Options{Frames: 1})
	ctx := context.Background()

	var terr *TransitionError
	if err := o.AcceptScene(ctx); !errors.As(err, &terr) {
		t.Errorf("accept in setup: expected transition error, got %v", err)
	}
	if err := o.SkipMusic(ctx); !errors.As(err, &terr) {
		t.Errorf("skip in setup: expected transition error, got %v", err)
	}

	_ = o.Start(ctx, rainySetup())
	if err := o.Start(ctx, rainySetup()); !errors.As(err, &terr) {
		t.Errorf("start in scene: expected transition error, got %v", err)
	}
	if err := o.RetryMusic(ctx); !errors.As(err, &terr) {
		t.Errorf("retry in scene: expected transition error, got %v", err)
	}

	_ = o.AcceptScene(ctx)
	if err := o.SkipMusic(ctx); !errors.As(err, &terr) {
		t.Errorf("skip in complete: expected transition error, got %v", err)
	}
	if err := o.RegenerateScene(ctx); !errors.As(err, &terr) {
		t.Errorf("regenerate in complete: expected transition error, got %v", err)
	}
	if len(gw.imageCalls) != 2 {
		t.Errorf("rejected commands must not call the gateway, got %d image calls", len(gw.imageCalls))
	}
}

func TestPreview_CyclesFramesOnceComplete(t *testing.T) {
	gw := &fakeGateway{}
	obs := &recordingObserver{}
	o := startOrchestrator(t, gw, Options{Frames: 3, PreviewInterval: 2 * time.Millisecond, Observer: obs})
	ctx := context.Background()

	_ = o.Start(ctx, rainySetup())
	_ = o.AcceptScene(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		obs.mu.Lock()
		ticks := obs.ticks
		obs.mu.Unlock()
		if ticks >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("preview ticker did not advance, ticks=%d", ticks)
		}
		time.Sleep(time.Millisecond)
	}

	if f := o.Snapshot().PreviewFrame; f < 0 || f >= 3 {
		t.Errorf("preview frame out of range: %d", f)
	}
}

func TestRun_StopsAcceptingCommands(t *testing.T) {
	o := New(&fakeGateway{}, Options{Frames: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := o.Start(context.Background(), rainySetup()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

type timeoutGateway struct{ fakeGateway }

func (g *timeoutGateway) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRequestTimeout_SurfacesAsStageError(t *testing.T) {
	o := startOrchestrator(t, &timeoutGateway{}, Options{Frames: 1, RequestTimeout: 5 * time.Millisecond})

	if err := o.Start(context.Background(), rainySetup()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := o.Snapshot()
	if s.LastError == nil || s.LastError.Stage != StageScene || !s.LastError.Retryable {
		t.Errorf("expected retryable scene error, got %+v", s.LastError)
	}
}
