package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lofivibes/api/internal/client"
	"github.com/lofivibes/api/internal/session"
)

type sessionFlags struct {
	prompt      string
	instruments []string
	duration    int
	frames      int
	out         string
	yes         bool
	timeout     time.Duration
}

func newSessionCommand(opts *options) *cobra.Command {
	f := &sessionFlags{}

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Generate a scene, its animation and a music track",
		Example: `  lofi session -p "Rainy night studying" -i piano -i vinyl -d 30 --out ./session
  lofi session -p "Sunny café" -i guitar --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.frames < 1 || f.frames > session.MaxFrames {
				return fmt.Errorf("--frames must be between 1 and %d", session.MaxFrames)
			}
			gateway := client.NewGatewayClient(strings.TrimRight(opts.server, "/"), opts.token, f.timeout)
			if f.out != "" {
				if err := os.MkdirAll(f.out, 0o755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
				gateway.SaveAudioTo(f.out)
			}

			r := &runner{
				gateway: gateway,
				flags:   f,
				out:     cmd.OutOrStdout(),
				answers: bufio.NewReader(opts.in),
			}
			return r.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&f.prompt, "prompt", "p", "", "Scene vibe, up to 100 characters")
	cmd.Flags().StringArrayVarP(&f.instruments, "instrument", "i", nil, "Instrument to feature (repeatable, see 'lofi instruments')")
	cmd.Flags().IntVarP(&f.duration, "duration", "d", 30, "Music length in seconds (10-60)")
	cmd.Flags().IntVar(&f.frames, "frames", session.DefaultFrames, "Animation frames to generate (1-24)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Directory for frames, audio and manifest.yaml")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Accept the first scene and skip music on failure")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 3*time.Minute, "Per-image request timeout")
	return cmd
}

// runner drives one orchestrator from the terminal.
type runner struct {
	gateway session.Gateway
	flags   *sessionFlags
	out     io.Writer
	answers *bufio.Reader

	mu         sync.Mutex
	lastFrames int
	lastStage  session.Stage
}

var errAbandoned = errors.New("session abandoned")

func (r *runner) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	orch := session.New(r.gateway, session.Options{
		Frames:         r.flags.frames,
		RequestTimeout: r.flags.timeout,
		Observer:       r,
	})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go orch.Run(runCtx)

	setup := session.Setup{
		Prompt:          r.flags.prompt,
		Instruments:     r.flags.instruments,
		DurationSeconds: r.flags.duration,
	}

	r.step("Generating your study scene")
	if err := orch.Start(ctx, setup); err != nil {
		return err
	}

	for {
		snap := orch.Snapshot()
		var err error

		switch snap.Stage {
		case session.StageScene:
			err = r.sceneStep(ctx, orch, snap)

		case session.StageAnimation:
			// Only reachable after a frame failed.
			if snap.LastError == nil {
				return errors.New("animation did not finish")
			}
			r.failed(snap.LastError)
			if r.flags.yes {
				return errors.New(snap.LastError.Message)
			}
			switch r.ask("[s]tart over or [q]uit?", "s", "q") {
			case "s":
				if err = orch.Reset(ctx); err == nil {
					r.step("Generating your study scene")
					err = orch.Start(ctx, setup)
				}
			default:
				return errAbandoned
			}

		case session.StageMusic:
			r.failed(snap.LastError)
			choice := "s"
			if !r.flags.yes {
				choice = r.ask("[r]etry, [s]kip music or [q]uit?", "r", "s", "q")
			}
			switch choice {
			case "r":
				r.step("Retrying music")
				err = orch.RetryMusic(ctx)
			case "s":
				r.warn("Skipping music")
				err = orch.SkipMusic(ctx)
			default:
				return errAbandoned
			}

		case session.StageComplete:
			return r.finish(snap)

		default:
			return fmt.Errorf("unexpected stage %q", snap.Stage)
		}

		if err != nil {
			return err
		}
	}
}

func (r *runner) sceneStep(ctx context.Context, orch *session.Orchestrator, snap session.Session) error {
	if snap.LastError != nil {
		r.failed(snap.LastError)
		if r.flags.yes || r.ask("[r]egenerate or [q]uit?", "r", "q") != "r" {
			return errAbandoned
		}
		r.step("Regenerating scene")
		return orch.RegenerateScene(ctx)
	}

	if snap.SceneImage.IsPlaceholder() {
		r.warn("The image model returned no picture, showing a placeholder")
	} else {
		r.success(fmt.Sprintf("Scene ready (%d KB)", len(snap.SceneImage.Data)/1024))
	}

	choice := "a"
	if !r.flags.yes {
		choice = r.ask("[a]ccept, [r]egenerate or [q]uit?", "a", "r", "q")
	}
	switch choice {
	case "a":
		r.step(fmt.Sprintf("Animating %d frames", orch.Frames()))
		return orch.AcceptScene(ctx)
	case "r":
		r.step("Regenerating scene")
		return orch.RegenerateScene(ctx)
	}
	return errAbandoned
}

// ask prompts until one of choices is entered. End of input quits.
func (r *runner) ask(question string, choices ...string) string {
	for {
		fmt.Fprintf(r.out, "%s ", question)
		line, err := r.answers.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "" {
			for _, c := range choices {
				if strings.HasPrefix(answer, c) {
					return c
				}
			}
		}
		if err != nil {
			fmt.Fprintln(r.out)
			return "q"
		}
	}
}

func (r *runner) step(msg string) {
	fmt.Fprintln(r.out, stepStyle.Render("→ "+msg))
}

func (r *runner) success(msg string) {
	fmt.Fprintln(r.out, successStyle.Render("✓ "+msg))
}

func (r *runner) warn(msg string) {
	fmt.Fprintln(r.out, warningStyle.Render("! "+msg))
}

func (r *runner) failed(se *session.StageError) {
	if se == nil {
		return
	}
	fmt.Fprintln(r.out, errorStyle.Render("✗ "+se.Message))
	if se.Details != "" {
		fmt.Fprintln(r.out, mutedStyle.Render("  "+se.Details))
	}
}

// SessionChanged reports animation progress.
func (r *runner) SessionChanged(s session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(s.AnimationFrames)
	if s.Stage == session.StageAnimation && n > r.lastFrames {
		fmt.Fprintln(r.out, mutedStyle.Render(fmt.Sprintf("  frame %d/%d", n, r.flags.frames)))
	}
	if s.Stage == session.StageMusic && r.lastStage == session.StageAnimation {
		r.step("Composing music")
	}
	r.lastFrames, r.lastStage = n, s.Stage
}

func (r *runner) PreviewAdvanced(int) {}

// manifest describes a finished session on disk.
type manifest struct {
	session.Setup `yaml:",inline"`
	Stage         session.Stage  `yaml:"stage"`
	Scene         string         `yaml:"scene,omitempty"`
	Frames        []string       `yaml:"frames"`
	Music         *manifestMusic `yaml:"music,omitempty"`
	CreatedAt     time.Time      `yaml:"createdAt"`
}

type manifestMusic struct {
	StreamURL string `yaml:"streamUrl"`
	File      string `yaml:"file,omitempty"`
}

func (r *runner) finish(s session.Session) error {
	r.success("Session complete")
	if s.MusicStreamRef != nil && s.MusicStreamRef.SavedTo != "" {
		fmt.Fprintln(r.out, mutedStyle.Render("  audio: "+s.MusicStreamRef.SavedTo))
	}
	if r.flags.out == "" {
		return nil
	}

	m := manifest{
		Setup:     s.Setup,
		Stage:     s.Stage,
		Frames:    make([]string, 0, len(s.AnimationFrames)),
		CreatedAt: time.Now().UTC(),
	}
	if s.SceneImage != nil {
		name, err := r.writeImage("scene", *s.SceneImage)
		if err != nil {
			return err
		}
		m.Scene = name
	}
	for i, f := range s.AnimationFrames {
		name, err := r.writeImage(fmt.Sprintf("frame-%02d", i+1), f)
		if err != nil {
			return err
		}
		m.Frames = append(m.Frames, name)
	}
	if ref := s.MusicStreamRef; ref != nil {
		m.Music = &manifestMusic{StreamURL: ref.StreamURL}
		if ref.SavedTo != "" {
			m.Music.File = filepath.Base(ref.SavedTo)
		}
	}

	path := filepath.Join(r.flags.out, "manifest.yaml")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	enc := yaml.NewEncoder(file)
	enc.SetIndent(2)
	err = enc.Encode(&m)
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	fmt.Fprintln(r.out, mutedStyle.Render("  manifest: "+path))
	return nil
}

// writeImage saves an embedded image under name and returns the file name.
// Placeholders are recorded by URL.
func (r *runner) writeImage(name string, ref session.ImageRef) (string, error) {
	if ref.IsPlaceholder() {
		return ref.String(), nil
	}
	file := name + imageExtension(ref.MIMEType)
	if err := os.WriteFile(filepath.Join(r.flags.out, file), ref.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", file, err)
	}
	return file, nil
}

func imageExtension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	return ".png"
}
