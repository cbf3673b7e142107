package generation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Subhanamir19/faccely-sub002/internal/provider"
)

const analyzeSchema = `{
  "scores": {
    "jawline": int 0-100,
    "cheekbones": int 0-100,
    "eyes_symmetry": int 0-100,
    "nose_harmony": int 0-100,
    "facial_symmetry": int 0-100,
    "skin_quality": int 0-100,
    "sexual_dimorphism": int 0-100
  },
  "overall": int 0-100
}`

const routineSchema = `{
  "summary": string,
  "days": [
    {
      "day": int (1-based, consecutive),
      "focus": string,
      "tasks": [
        {"activity": activity id, "title": string, "instructions": string, "minutes": int 1-90}
      ]
    }
  ]
}`

func (p *Pipeline) analyzePrompt(in AnalyzeInput) provider.Prompt {
	images := []provider.Image{in.Frontal}
	views := "a frontal photo"
	if in.Side != nil {
		images = append(images, *in.Side)
		views = "a frontal photo followed by a side profile photo"
	}
	return provider.Prompt{
		System: "You are a facial aesthetics scoring model. Reply with JSON only. " +
			"Every score is an integer from 0 to 100. Do not add fields.",
		User: fmt.Sprintf("Score the face in %s. Return exactly this JSON shape:\n%s\n"+
			"overall must lie between the lowest and highest metric score.", views, analyzeSchema),
		Images:      images,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.Temperature,
		JSON:        true,
	}
}

func (p *Pipeline) explainPrompt(in ExplainInput) provider.Prompt {
	user := fmt.Sprintf("The user's %s score is %d out of 100. Explain in plain language what drives this "+
		"score and give two practical, non-medical suggestions. Keep it under %d characters.",
		strings.ReplaceAll(in.Metric, "_", " "), in.Score, p.opts.MaxAdvisoryBytes)
	if in.Context != "" {
		user += "\nThe user asked: " + in.Context
	}
	return provider.Prompt{
		System:      "You are a concise, supportive facial aesthetics coach. Plain text only, no markdown headings.",
		User:        user,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.Temperature,
	}
}

func (p *Pipeline) routinePrompt(in RoutineInput) provider.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Build a %d-day routine with exactly %d tasks per day.\n", p.opts.RoutineDays, p.opts.TasksPerDay)
	fmt.Fprintf(&b, "Goal: %s\n", in.Goal)
	if len(in.Focus) > 0 {
		fmt.Fprintf(&b, "Focus metrics: %s\n", strings.Join(in.Focus, ", "))
	}
	if len(in.Scores) > 0 {
		keys := make([]string, 0, len(in.Scores))
		for k := range in.Scores {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Current scores:")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%d", k, in.Scores[k])
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Allowed activity ids (use only these): %s\n", strings.Join(p.catalog.IDs(), ", "))
	for _, g := range p.catalog.ExclusiveGroups {
		fmt.Fprintf(&b, "Never schedule these on the same day: %s\n", strings.Join(g.Activities, ", "))
	}
	b.WriteString("Do not repeat an activity within a day.\n")
	fmt.Fprintf(&b, "Return exactly this JSON shape:\n%s", routineSchema)

	return provider.Prompt{
		System: "You are a routine planner. Reply with one JSON object only. " +
			"Follow every count and vocabulary constraint exactly. Do not add fields.",
		User:        b.String(),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.Temperature,
		JSON:        true,
	}
}

// repairPrompt re-sends the failed output with the schema and the reasons
// it was rejected.
func (p *Pipeline) repairPrompt(direct provider.Prompt, schema, raw string, reason error) provider.Prompt {
	raw = clipUTF8(raw, p.opts.MaxResponseBytes)
	return provider.Prompt{
		System: "You repair model output so it matches a JSON schema exactly. " +
			"Reply with the corrected JSON object only. Keep the original content where it is valid.",
		User: fmt.Sprintf("Original instructions:\n%s\n\nRequired schema:\n%s\n\nThe previous output was rejected: %v\n\n"+
			"Previous output:\n%s", direct.User, schema, reason, raw),
		MaxTokens:   direct.MaxTokens,
		Temperature: 0,
		JSON:        true,
	}
}

func (p *Pipeline) explainRepairPrompt(direct provider.Prompt, reason error) provider.Prompt {
	out := direct
	out.User = direct.User + fmt.Sprintf("\n\nYour previous answer was rejected (%v). Answer again, shorter and complete.", reason)
	return out
}
