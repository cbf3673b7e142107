package generation

import "github.com/Subhanamir19/faccely-sub002/internal/provider"

// Metrics scored by the analysis model.
var Metrics = []string{
	"jawline",
	"cheekbones",
	"eyes_symmetry",
	"nose_harmony",
	"facial_symmetry",
	"skin_quality",
	"sexual_dimorphism",
}

type Scores struct {
	Jawline          *int `json:"jawline" validate:"required,min=0,max=100"`
	Cheekbones       *int `json:"cheekbones" validate:"required,min=0,max=100"`
	EyesSymmetry     *int `json:"eyes_symmetry" validate:"required,min=0,max=100"`
	NoseHarmony      *int `json:"nose_harmony" validate:"required,min=0,max=100"`
	FacialSymmetry   *int `json:"facial_symmetry" validate:"required,min=0,max=100"`
	SkinQuality      *int `json:"skin_quality" validate:"required,min=0,max=100"`
	SexualDimorphism *int `json:"sexual_dimorphism" validate:"required,min=0,max=100"`
}

func (s Scores) values() []*int {
	return []*int{s.Jawline, s.Cheekbones, s.EyesSymmetry, s.NoseHarmony, s.FacialSymmetry, s.SkinQuality, s.SexualDimorphism}
}

type AnalyzeResult struct {
	Scores       Scores `json:"scores"`
	Overall      *int   `json:"overall" validate:"required,min=0,max=100"`
	ModelVersion string `json:"model_version,omitempty"`
}

type ExplainResult struct {
	Metric    string `json:"metric,omitempty"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

type Task struct {
	Activity     string `json:"activity" validate:"required"`
	Title        string `json:"title" validate:"required,max=120"`
	Instructions string `json:"instructions" validate:"required,max=600"`
	Minutes      int    `json:"minutes" validate:"min=1,max=90"`
}

type Day struct {
	Day   int    `json:"day" validate:"min=1"`
	Focus string `json:"focus" validate:"required,max=120"`
	Tasks []Task `json:"tasks" validate:"required,min=1,dive"`
}

type RoutinePlan struct {
	Summary string `json:"summary" validate:"required,max=600"`
	Days    []Day  `json:"days" validate:"required,min=1,dive"`
}

type AnalyzeInput struct {
	Frontal provider.Image
	Side    *provider.Image
}

type ExplainInput struct {
	Metric string `json:"metric" validate:"required,oneof=jawline cheekbones eyes_symmetry nose_harmony facial_symmetry skin_quality sexual_dimorphism"`
	Score  int    `json:"score" validate:"min=0,max=100"`
	// Context is optional free text from the client, e.g. a question.
	Context string `json:"context" validate:"max=500"`
}

type RoutineInput struct {
	Goal   string         `json:"goal" validate:"required,max=200"`
	Focus  []string       `json:"focus" validate:"max=7,dive,oneof=jawline cheekbones eyes_symmetry nose_harmony facial_symmetry skin_quality sexual_dimorphism"`
	Scores map[string]int `json:"scores" validate:"omitempty,dive,min=0,max=100"`
}
