package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/lofivibes/api/internal/client"
	"github.com/lofivibes/api/internal/model"
	"github.com/lofivibes/api/internal/session"
	"github.com/lofivibes/api/internal/store"
)

const TaskTypeSessionExpire = "session:expire"

var (
	// ErrSessionNotFound is returned for unknown or expired sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionInactive means the session's view survives in the store but
	// its orchestrator is gone, so it no longer accepts commands.
	ErrSessionInactive = errors.New("session is no longer active")

	// ErrNoTrack is returned when a session has no music to download.
	ErrNoTrack = errors.New("session has no music track")

	// ErrImageNotFound is returned for a scene or frame that does not exist.
	ErrImageNotFound = errors.New("image not found")
)

// Broadcaster pushes session updates to subscribers.
type Broadcaster interface {
	BroadcastState(sessionID string, view *model.SessionView)
	BroadcastPreview(sessionID string, frame int)
}

// SessionOptions configures hosted sessions.
type SessionOptions struct {
	Frames          int
	PreviewInterval time.Duration
	RequestTimeout  time.Duration
	IdleTTL         time.Duration
	PublicURL       string
}

// SessionService hosts one orchestrator per session.
type SessionService struct {
	gateway     *LocalGateway
	store       store.Store
	hub         Broadcaster
	archive     client.TrackArchive
	asynqClient *asynq.Client
	opts        SessionOptions

	mu       sync.RWMutex
	sessions map[string]*hostedSession
}

type hostedSession struct {
	id        string
	orch      *session.Orchestrator
	cancel    context.CancelFunc
	createdAt time.Time

	mu        sync.Mutex
	updatedAt time.Time
	track     *Track
}

func NewSessionService(gateway *LocalGateway, st store.Store, hub Broadcaster, archive client.TrackArchive, asynqClient *asynq.Client, opts SessionOptions) *SessionService {
	opts.Frames = session.ClampFrames(opts.Frames)
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = store.DefaultTTL
	}
	return &SessionService{
		gateway:     gateway,
		store:       st,
		hub:         hub,
		archive:     archive,
		asynqClient: asynqClient,
		opts:        opts,
		sessions:    make(map[string]*hostedSession),
	}
}

// Create registers a new session and starts generating its scene.
func (s *SessionService) Create(ctx context.Context, setup session.Setup) (*model.SessionView, error) {
	if err := session.ValidateSetup(setup); err != nil {
		return nil, err
	}

	now := time.Now()
	h := &hostedSession{id: uuid.New().String(), createdAt: now, updatedAt: now}

	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.orch = session.New(s.gateway.ForSession(h.id, h.setTrack), session.Options{
		Frames:          s.opts.Frames,
		PreviewInterval: s.opts.PreviewInterval,
		RequestTimeout:  s.opts.RequestTimeout,
		Observer:        &sessionObserver{svc: s, h: h},
	})
	go h.orch.Run(runCtx)

	s.mu.Lock()
	s.sessions[h.id] = h
	s.mu.Unlock()

	if err := s.scheduleExpiry(ctx, h.id, s.opts.IdleTTL); err != nil {
		log.Printf("Warning: failed to schedule expiry for session %s: %v", h.id, err)
	}

	log.Printf("Session %s created (%q, %s)", h.id, setup.Prompt, strings.Join(setup.Instruments, ","))
	s.dispatch(h, session.ActionStart, func(ctx context.Context) error {
		return h.orch.Start(ctx, setup)
	})

	view := s.view(h, h.orch.Snapshot())
	view.Busy = true
	return view, nil
}

// Get returns the live view, falling back to the stored one.
func (s *SessionService) Get(ctx context.Context, id string) (*model.SessionView, error) {
	if h, ok := s.lookup(id); ok {
		return s.view(h, h.orch.Snapshot()), nil
	}
	view, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return view, nil
}

// Start begins a new run on a session that was reset back to setup.
func (s *SessionService) Start(ctx context.Context, id string, setup session.Setup) (*model.SessionView, error) {
	if err := session.ValidateSetup(setup); err != nil {
		return nil, err
	}
	return s.command(ctx, id, session.ActionStart, func(o *session.Orchestrator) func(context.Context) error {
		return func(ctx context.Context) error {
			return o.Start(ctx, setup)
		}
	})
}

// RegenerateScene requests a new base scene.
func (s *SessionService) RegenerateScene(ctx context.Context, id string) (*model.SessionView, error) {
	return s.command(ctx, id, session.ActionRegenerateScene, func(o *session.Orchestrator) func(context.Context) error {
		return o.RegenerateScene
	})
}

// AcceptScene starts the animation chain followed by the music track.
func (s *SessionService) AcceptScene(ctx context.Context, id string) (*model.SessionView, error) {
	return s.command(ctx, id, session.ActionAcceptScene, func(o *session.Orchestrator) func(context.Context) error {
		return o.AcceptScene
	})
}

// RetryMusic re-issues the last music request.
func (s *SessionService) RetryMusic(ctx context.Context, id string) (*model.SessionView, error) {
	return s.command(ctx, id, session.ActionRetryMusic, func(o *session.Orchestrator) func(context.Context) error {
		return o.RetryMusic
	})
}

// SkipMusic completes the session without audio. It settles immediately.
func (s *SessionService) SkipMusic(ctx context.Context, id string) (*model.SessionView, error) {
	h, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.orch.SkipMusic(ctx); err != nil {
		return nil, err
	}
	return s.view(h, h.orch.Snapshot()), nil
}

// Reset cancels in-flight work and returns the session to setup. The same id
// can then be started again with Start.
func (s *SessionService) Reset(ctx context.Context, id string) (*model.SessionView, error) {
	h, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.orch.Reset(ctx); err != nil {
		return nil, err
	}
	return s.view(h, h.orch.Snapshot()), nil
}

// Share builds the share sheet payload for a session.
func (s *SessionService) Share(ctx context.Context, id string) (*model.ShareResponse, error) {
	view, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	labels := strings.Join(session.InstrumentLabels(view.Instruments), ", ")
	return &model.ShareResponse{
		Title: "My Lo-Fi Study Session",
		Text:  fmt.Sprintf("Check out my custom lo-fi session: \"%s\" with %s", view.Prompt, labels),
		URL:   fmt.Sprintf("%s/sessions/%s", s.opts.PublicURL, id),
	}, nil
}

// Track returns the session's finished music.
func (s *SessionService) Track(id string) (*Track, error) {
	h, ok := s.lookup(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.track == nil {
		return nil, ErrNoTrack
	}
	t := *h.track
	return &t, nil
}

// TrackURL resolves an archived track to a URL the client can follow.
func (s *SessionService) TrackURL(ctx context.Context, t *Track) (string, error) {
	if s.archive == nil || !t.Archived() {
		return "", ErrNoTrack
	}
	if t.URL != "" {
		return t.URL, nil
	}
	return s.archive.Link(ctx, t.Key, time.Hour)
}

// Scene returns the current scene image.
func (s *SessionService) Scene(id string) (session.ImageRef, error) {
	h, ok := s.lookup(id)
	if !ok {
		return session.ImageRef{}, ErrSessionNotFound
	}
	snap := h.orch.Snapshot()
	if snap.SceneImage == nil {
		return session.ImageRef{}, ErrImageNotFound
	}
	return *snap.SceneImage, nil
}

// Frame returns animation frame n, 1-indexed.
func (s *SessionService) Frame(id string, n int) (session.ImageRef, error) {
	h, ok := s.lookup(id)
	if !ok {
		return session.ImageRef{}, ErrSessionNotFound
	}
	snap := h.orch.Snapshot()
	if n < 1 || n > len(snap.AnimationFrames) {
		return session.ImageRef{}, ErrImageNotFound
	}
	return snap.AnimationFrames[n-1], nil
}

// Expire removes a session that has been idle for the configured TTL. It
// returns the remaining idle time when the session was touched since the
// expiry was scheduled.
func (s *SessionService) Expire(ctx context.Context, id string) (time.Duration, error) {
	h, ok := s.lookup(id)
	if !ok {
		return 0, nil
	}

	h.mu.Lock()
	idle := time.Since(h.updatedAt)
	h.mu.Unlock()
	if remaining := s.opts.IdleTTL - idle; remaining > 0 {
		return remaining, nil
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	h.cancel()

	h.mu.Lock()
	track := h.track
	h.track = nil
	h.mu.Unlock()
	s.releaseTrack(ctx, id, track)

	if err := s.store.Delete(ctx, id); err != nil {
		return 0, fmt.Errorf("failed to delete session view: %w", err)
	}
	log.Printf("Session %s expired", id)
	return 0, nil
}

// Close stops every hosted orchestrator.
func (s *SessionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.sessions {
		h.cancel()
		delete(s.sessions, id)
	}
}

// ScheduleExpiry queues an expiry check for id after delay.
func (s *SessionService) ScheduleExpiry(ctx context.Context, id string, delay time.Duration) error {
	return s.scheduleExpiry(ctx, id, delay)
}

func (s *SessionService) scheduleExpiry(ctx context.Context, id string, delay time.Duration) error {
	if s.asynqClient == nil {
		time.AfterFunc(delay, func() {
			remaining, err := s.Expire(context.Background(), id)
			if err != nil {
				log.Printf("Session %s expiry failed: %v", id, err)
				return
			}
			if remaining > 0 {
				_ = s.scheduleExpiry(context.Background(), id, remaining)
			}
		})
		return nil
	}

	task, err := newExpireTask(id)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue("sessions"),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func newExpireTask(id string) (*asynq.Task, error) {
	data, err := json.Marshal(map[string]string{"sessionId": id})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSessionExpire, data), nil
}

func (s *SessionService) lookup(id string) (*hostedSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.sessions[id]
	return h, ok
}

func (s *SessionService) active(ctx context.Context, id string) (*hostedSession, error) {
	if h, ok := s.lookup(id); ok {
		return h, nil
	}
	if _, err := s.store.Get(ctx, id); err == nil {
		return nil, ErrSessionInactive
	}
	return nil, ErrSessionNotFound
}

// command checks an asynchronous command against the orchestrator and runs
// it in the background. Progress is reported through the observer.
func (s *SessionService) command(ctx context.Context, id string, action session.Action, pick func(*session.Orchestrator) func(context.Context) error) (*model.SessionView, error) {
	h, err := s.active(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.orch.Check(action); err != nil {
		return nil, err
	}
	s.dispatch(h, action, pick(h.orch))

	view := s.view(h, h.orch.Snapshot())
	view.Busy = true
	return view, nil
}

func (s *SessionService) dispatch(h *hostedSession, action session.Action, run func(context.Context) error) {
	go func() {
		if err := run(context.Background()); err != nil && !errors.Is(err, session.ErrClosed) {
			log.Printf("Session %s: %s rejected: %v", h.id, action, err)
		}
	}()
}

func (h *hostedSession) setTrack(t *Track) {
	h.mu.Lock()
	h.track = t
	h.mu.Unlock()
}

func (s *SessionService) releaseTrack(ctx context.Context, id string, t *Track) {
	if t == nil || !t.Archived() || s.archive == nil {
		return
	}
	if err := s.archive.Remove(ctx, t.Key); err != nil {
		log.Printf("Warning: failed to delete archived track for session %s: %v", id, err)
	}
}

func (s *SessionService) view(h *hostedSession, snap session.Session) *model.SessionView {
	h.mu.Lock()
	updated := h.updatedAt
	h.mu.Unlock()

	v := &model.SessionView{
		ID:              h.id,
		Stage:           snap.Stage,
		Prompt:          snap.Prompt,
		Instruments:     snap.Instruments,
		DurationSeconds: snap.DurationSeconds,
		AnimationFrames: make([]model.ImageView, 0, len(snap.AnimationFrames)),
		FrameTarget:     h.orch.Frames(),
		Progress:        snap.Progress,
		PreviewFrame:    snap.PreviewFrame,
		Music:           snap.MusicStreamRef,
		LastError:       snap.LastError,
		Busy:            snap.Busy,
		CreatedAt:       h.createdAt,
		UpdatedAt:       updated,
	}
	if v.Instruments == nil {
		v.Instruments = []string{}
	}
	if snap.SceneImage != nil {
		iv := imageView(*snap.SceneImage, fmt.Sprintf("/api/sessions/%s/scene", h.id))
		v.SceneImage = &iv
	}
	for i, f := range snap.AnimationFrames {
		v.AnimationFrames = append(v.AnimationFrames, imageView(f, fmt.Sprintf("/api/sessions/%s/frames/%d", h.id, i+1)))
	}
	return v
}

func imageView(ref session.ImageRef, route string) model.ImageView {
	if ref.IsPlaceholder() {
		return model.ImageView{Kind: ref.Kind, URL: ref.String(), Placeholder: true}
	}
	return model.ImageView{Kind: ref.Kind, URL: route}
}

// sessionObserver persists and broadcasts every change of one session.
type sessionObserver struct {
	svc *SessionService
	h   *hostedSession
}

func (o *sessionObserver) SessionChanged(snap session.Session) {
	h := o.h
	h.mu.Lock()
	h.updatedAt = time.Now()
	var dropped *Track
	if snap.MusicStreamRef == nil && h.track != nil {
		dropped, h.track = h.track, nil
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.svc.releaseTrack(ctx, h.id, dropped)

	view := o.svc.view(h, snap)
	if err := o.svc.store.Save(ctx, view); err != nil {
		log.Printf("Warning: failed to save session %s: %v", h.id, err)
	}
	if o.svc.hub != nil {
		o.svc.hub.BroadcastState(h.id, view)
	}
}

func (o *sessionObserver) PreviewAdvanced(frame int) {
	if o.svc.hub != nil {
		o.svc.hub.BroadcastPreview(o.h.id, frame)
	}
}
