package session

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Stage is one position in the user-facing generation flow.
type Stage string

const (
	StageSetup     Stage = "setup"
	StageScene     Stage = "scene"
	StageAnimation Stage = "animation"
	StageMusic     Stage = "music"
	StageComplete  Stage = "complete"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageSetup, StageScene, StageAnimation, StageMusic, StageComplete}

// transitions holds the valid forward exits of each stage. Reset is handled
// separately because it is valid from everywhere.
var transitions = map[Stage][]Stage{
	StageSetup:     {StageScene},
	StageScene:     {StageScene, StageAnimation},
	StageAnimation: {StageMusic},
	StageMusic:     {StageMusic, StageComplete},
	StageComplete:  {},
}

// CanTransition reports whether the flow may move from s to next.
func (s Stage) CanTransition(next Stage) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// Index returns the position of s in execution order, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

const (
	MaxPromptLength    = 100
	MinDurationSeconds = 10
	MaxDurationSeconds = 60
	DefaultFrames      = 24
	MaxFrames          = 24
)

// ClampFrames bounds a configured frame count to 1..MaxFrames, treating
// non-positive values as DefaultFrames.
func ClampFrames(n int) int {
	switch {
	case n <= 0:
		return DefaultFrames
	case n > MaxFrames:
		return MaxFrames
	}
	return n
}

// Setup is what the user submits to start a session.
type Setup struct {
	Prompt          string   `json:"prompt" yaml:"prompt" validate:"required,max=100"`
	Instruments     []string `json:"instruments" yaml:"instruments" validate:"required,min=1,dive,oneof=piano guitar drums synth bass ambient vinyl"`
	DurationSeconds int      `json:"durationSeconds" yaml:"durationSeconds" validate:"min=10,max=60"`
}

// Session is the state of one user-driven generation attempt.
type Session struct {
	Setup
	Stage           Stage       `json:"stage"`
	SceneImage      *ImageRef   `json:"sceneImage"`
	AnimationFrames []ImageRef  `json:"animationFrames"`
	MusicStreamRef  *MusicRef   `json:"musicStreamRef"`
	LastError       *StageError `json:"lastError"`

	Busy         bool    `json:"busy"`
	Progress     float64 `json:"progress"`
	PreviewFrame int     `json:"previewFrame"`
}

// MusicRef points at a playable audio resource.
type MusicRef struct {
	StreamURL string `json:"streamUrl"`
	SavedTo   string `json:"savedTo,omitempty"`
}

func (s Session) clone() Session {
	out := s
	out.Instruments = append([]string(nil), s.Instruments...)
	out.AnimationFrames = append([]ImageRef(nil), s.AnimationFrames...)
	if s.SceneImage != nil {
		img := *s.SceneImage
		out.SceneImage = &img
	}
	if s.MusicStreamRef != nil {
		ref := *s.MusicStreamRef
		out.MusicStreamRef = &ref
	}
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	return out
}

var validate = validator.New()

// ValidateSetup checks a submission before any generation request is made.
func ValidateSetup(s Setup) error {
	s.Prompt = strings.TrimSpace(s.Prompt)
	if err := validate.Struct(&s); err != nil {
		fields := make(map[string]string)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range verrs {
				fields[e.Field()] = e.Tag()
			}
		}
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Instrument is one entry of the fixed instrument catalog.
type Instrument struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Instruments is the catalog offered during setup.
var Instruments = []Instrument{
	{Value: "piano", Label: "Piano", Description: "Soft, melodic keys"},
	{Value: "guitar", Label: "Guitar", Description: "Warm, acoustic strums"},
	{Value: "drums", Label: "Drums", Description: "Gentle, rhythmic beats"},
	{Value: "synth", Label: "Synth", Description: "Dreamy, electronic tones"},
	{Value: "bass", Label: "Bass", Description: "Deep, grounding rhythms"},
	{Value: "ambient", Label: "Ambient", Description: "Atmospheric soundscapes"},
	{Value: "vinyl", Label: "Vinyl Crackle", Description: "Nostalgic record warmth"},
}

// LookupInstrument finds a catalog entry by value.
func LookupInstrument(value string) (Instrument, bool) {
	for _, inst := range Instruments {
		if inst.Value == value {
			return inst, true
		}
	}
	return Instrument{}, false
}

// InstrumentLabels maps values to catalog labels, dropping unknown values.
func InstrumentLabels(values []string) []string {
	labels := make([]string, 0, len(values))
	for _, v := range values {
		if inst, ok := LookupInstrument(v); ok {
			labels = append(labels, inst.Label)
		}
	}
	return labels
}
