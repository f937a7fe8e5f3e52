package atlas

import (
	"context"
	"strings"

	"github.com/engramlabs/engram-backend/internal/platform/errs"
	"github.com/engramlabs/engram-backend/internal/platform/openai"
)

const userAtlasSystem = `You maintain the Atlas: a living document describing who the user is.
You receive the current Atlas and summaries of yesterday's conversations, and
return the complete rewritten Atlas.

Rules:
- Record only facts the user stated about themselves. Never infer or assume.
- Date time-sensitive entries as YYYY-MM-DD.
- Aggressively remove entries that have not been referenced in 30 days.
- Never duplicate information; fold related entries together.
- When the user contradicts an existing entry, correct it immediately.
- Return the full document, not a diff.`

const assistantAtlasSystem = `You maintain your own Atlas: a living document describing you, the assistant, as this user knows you.
You receive your current Atlas and summaries of yesterday's conversations, and
return the complete rewritten Atlas.

Rules:
- Ground every entry in observed interactions, not assumptions about yourself.
- Date time-sensitive entries as YYYY-MM-DD.
- Remove transient states (moods, momentary focus) older than 14 days.
- Remove reflections that went unused for 30 days.
- Never duplicate information.
- Return the full document, not a diff.`

var atlasSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"atlas": map[string]any{"type": "string"},
	},
	"required":             []string{"atlas"},
	"additionalProperties": false,
}

func rewriteAtlas(ctx context.Context, ai openai.Client, system, current, conversations string) (string, error) {
	var user strings.Builder
	user.WriteString("Current Atlas:\n")
	if strings.TrimSpace(current) == "" {
		user.WriteString("(empty)\n")
	} else {
		user.WriteString(current + "\n")
	}
	user.WriteString("\nYesterday's conversations:\n" + conversations)

	out, err := ai.GenerateJSON(ctx, system, user.String(), "atlas_rewrite", atlasSchema)
	if err != nil {
		return "", err
	}
	text, ok := out["atlas"].(string)
	if !ok {
		return "", errs.LLMParsef("atlas rewrite: missing atlas field")
	}
	return text, nil
}
