package session

import (
	"context"
	"fmt"
	"strings"
)

// ImageStyle selects the image adapter's prompt template.
type ImageStyle string

const (
	StyleBase      ImageStyle = "base"
	StyleAnimation ImageStyle = "animation"
)

// ImageRequest is one call to the image adapter.
type ImageRequest struct {
	Prompt      string
	Instruments []string
	Style       ImageStyle
	Reference   *ImageRef
	FrameNumber int
}

// ImageResult is what the image adapter returns, placeholder or not.
type ImageResult struct {
	Image      ImageRef
	PromptUsed string
	ModelNote  string
}

// MusicRequest is one call to the music adapter.
type MusicRequest struct {
	Text            string
	DurationSeconds int
}

// Gateway is the orchestrator's view of the two generation adapters.
type Gateway interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
	GenerateMusic(ctx context.Context, req MusicRequest) (*MusicRef, error)
}

// motionCues are the per-frame movements requested along the animation chain.
var motionCues = []string{
	"slight head tilt left",
	"gentle eye blink",
	"page turning motion",
	"soft hair movement",
	"subtle hand gesture",
	"gentle breathing",
	"light rain animation",
	"window reflection change",
	"book page flutter",
	"pencil movement",
	"coffee steam rise",
	"plant leaf sway",
	"lamp light flicker",
	"shadow shift",
	"fabric wrinkle",
	"gentle head nod",
	"eye movement right",
	"finger tap",
	"paper rustle",
	"ambient light change",
	"dust particle float",
	"curtain gentle sway",
	"reflection shimmer",
	"return to base pose",
}

// FramePrompt is the description sent with animation frame n (1-indexed).
func FramePrompt(prompt string, n int) string {
	cue := motionCues[(n-1)%len(motionCues)]
	return fmt.Sprintf("%s - Animation frame %d: %s", prompt, n, cue)
}

// MusicText builds the music model prompt for a setup.
func MusicText(s Setup) string {
	labels := InstrumentLabels(s.Instruments)
	for i, l := range labels {
		labels[i] = strings.ToLower(l)
	}
	return fmt.Sprintf("Lo-fi chill beats with %s: %s", strings.Join(labels, ", "), s.Prompt)
}
