package editor

import "encoding/json"

type Phase string

const (
	PhaseEmpty      Phase = "empty"
	PhaseEditing    Phase = "editing"
	PhaseGenerating Phase = "generating"
	PhaseResult     Phase = "result"
	PhaseError      Phase = "error"
)

// State is one edit session. Empty strings stand for absent images and errors.
type State struct {
	OriginalImage  string
	GeneratedImage string
	Prompt         string
	IsLoading      bool
	Error          string
}

// Phase reports the most recent outcome: a failed attempt outranks an
// earlier result, which stays in GeneratedImage.
func (s State) Phase() Phase {
	switch {
	case s.OriginalImage == "":
		return PhaseEmpty
	case s.IsLoading:
		return PhaseGenerating
	case s.Error != "":
		return PhaseError
	case s.GeneratedImage != "":
		return PhaseResult
	default:
		return PhaseEditing
	}
}

func (s State) HasResult() bool {
	return s.GeneratedImage != ""
}

// CanGenerate reports whether Generate would start a call from this state.
func (s State) CanGenerate() bool {
	return generateBlocker(s) == nil
}

type stateJSON struct {
	OriginalImage  *string `json:"originalImage"`
	GeneratedImage *string `json:"generatedImage"`
	Prompt         string  `json:"prompt"`
	IsLoading      bool    `json:"isLoading"`
	Error          *string `json:"error"`
	Phase          Phase   `json:"phase"`
	CanGenerate    bool    `json:"canGenerate"`
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		OriginalImage:  optional(s.OriginalImage),
		GeneratedImage: optional(s.GeneratedImage),
		Prompt:         s.Prompt,
		IsLoading:      s.IsLoading,
		Error:          optional(s.Error),
		Phase:          s.Phase(),
		CanGenerate:    s.CanGenerate(),
	})
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
