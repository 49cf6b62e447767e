package session

import (
	"strings"
	"testing"
)

func TestStage_Transitions(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageSetup, StageScene, true},
		{StageSetup, StageAnimation, false},
		{StageScene, StageScene, true},
		{StageScene, StageAnimation, true},
		{StageScene, StageMusic, false},
		{StageAnimation, StageMusic, true},
		{StageAnimation, StageComplete, false},
		{StageMusic, StageMusic, true},
		{StageMusic, StageComplete, true},
		{StageComplete, StageMusic, false},
		{StageComplete, StageComplete, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStage_IndexFollowsExecutionOrder(t *testing.T) {
	for i, st := range Stages {
		if st.Index() != i {
			t.Errorf("%s: expected index %d, got %d", st, i, st.Index())
		}
	}
	if Stage("bogus").Index() != -1 {
		t.Error("expected -1 for unknown stage")
	}
}

func TestClampFrames(t *testing.T) {
	cases := map[int]int{-1: DefaultFrames, 0: DefaultFrames, 1: 1, 12: 12, 24: 24, 25: MaxFrames, 100: MaxFrames}
	for in, want := range cases {
		if got := ClampFrames(in); got != want {
			t.Errorf("ClampFrames(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestValidateSetup(t *testing.T) {
	valid := Setup{Prompt: "Rainy night studying", Instruments: []string{"piano", "vinyl"}, DurationSeconds: 30}
	if err := ValidateSetup(valid); err != nil {
		t.Fatalf("expected valid setup, got %v", err)
	}

	edge := Setup{Prompt: strings.Repeat("x", MaxPromptLength), Instruments: []string{"bass"}, DurationSeconds: MaxDurationSeconds}
	if err := ValidateSetup(edge); err != nil {
		t.Errorf("expected boundary values to pass, got %v", err)
	}

	err := ValidateSetup(Setup{Prompt: "", Instruments: nil, DurationSeconds: 61})
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	for _, field := range []string{"Prompt", "Instruments", "DurationSeconds"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("expected %s to be reported, got %v", field, verr.Fields)
		}
	}
}

func TestInstrumentCatalogMatchesValidation(t *testing.T) {
	for _, inst := range Instruments {
		s := Setup{Prompt: "chill", Instruments: []string{inst.Value}, DurationSeconds: 30}
		if err := ValidateSetup(s); err != nil {
			t.Errorf("catalog instrument %q rejected: %v", inst.Value, err)
		}
	}
}

func TestInstrumentLabels(t *testing.T) {
	got := InstrumentLabels([]string{"piano", "unknown", "vinyl"})
	if len(got) != 2 || got[0] != "Piano" || got[1] != "Vinyl Crackle" {
		t.Errorf("unexpected labels %v", got)
	}
}

func TestMusicText(t *testing.T) {
	got := MusicText(Setup{Prompt: "Rainy night studying", Instruments: []string{"piano", "vinyl"}})
	want := "Lo-fi chill beats with piano, vinyl crackle: Rainy night studying"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFramePrompt(t *testing.T) {
	if got := FramePrompt("cozy", 1); got != "cozy - Animation frame 1: slight head tilt left" {
		t.Errorf("frame 1: got %q", got)
	}
	if got := FramePrompt("cozy", 24); got != "cozy - Animation frame 24: return to base pose" {
		t.Errorf("frame 24: got %q", got)
	}
}

func TestClassifyAndCode(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
		code string
	}{
		{ErrMissingReferenceImage, KindMissingReference, CodeMissingReference},
		{ErrUpstreamUnavailable, KindUpstreamUnavailable, CodeUpstreamUnavailable},
		{&UpstreamError{Code: CodeUpstreamRejected, Status: 402}, KindUpstreamError, CodeUpstreamRejected},
		{&UpstreamError{Code: CodeUpstreamUnavailable}, KindUpstreamUnavailable, CodeUpstreamUnavailable},
		{&UpstreamError{Message: "boom"}, KindUpstreamError, CodeUnknown},
		{&ValidationError{}, KindValidation, CodeUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.kind {
			t.Errorf("%v: kind %s, want %s", tt.err, got, tt.kind)
		}
		if got := CodeOf(tt.err); got != tt.code {
			t.Errorf("%v: code %s, want %s", tt.err, got, tt.code)
		}
	}
}

func TestMusicErrorMessage(t *testing.T) {
	if got := musicErrorMessage(&UpstreamError{Message: "boom"}); got != "There was an error creating your lo-fi session" {
		t.Errorf("generic: got %q", got)
	}
	if got := musicErrorMessage(&UpstreamError{Details: "status: limited_access"}); !strings.Contains(got, "paid ElevenLabs plan") {
		t.Errorf("limited access: got %q", got)
	}
}
