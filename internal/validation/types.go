package validation

// ExplainRequest is the payload for POST /explain.
type ExplainRequest struct {
	Metric  string `json:"metric" validate:"required,oneof=jawline cheekbones eyes_symmetry nose_harmony facial_symmetry skin_quality sexual_dimorphism"`
	Score   *int   `json:"score" validate:"required,min=0,max=100"`
	Context string `json:"context,omitempty" validate:"max=500"` // optional user question
}

// RoutineRequest is the payload for POST /routine.
type RoutineRequest struct {
	Goal   string         `json:"goal" validate:"required,max=200"`
	Focus  []string       `json:"focus,omitempty" validate:"max=7,dive,oneof=jawline cheekbones eyes_symmetry nose_harmony facial_symmetry skin_quality sexual_dimorphism"`
	Scores map[string]int `json:"scores,omitempty" validate:"omitempty,dive,min=0,max=100"` // metric -> latest score
}

// AnalyzeRequest is the JSON form of POST /analyze. Each image is base64,
// optionally wrapped in a data URL such as "data:image/png;base64,...".
type AnalyzeRequest struct {
	FrontalB64 string `json:"frontal_b64"`
	SideB64    string `json:"side_b64,omitempty"`
}
