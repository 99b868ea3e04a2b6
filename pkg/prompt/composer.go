package prompt

import (
	"fmt"
	"strings"

	"github.com/rallyhouse/rally/pkg/engine"
	"github.com/rallyhouse/rally/pkg/models"
)

// Input is everything the composer folds into one engine request.
type Input struct {
	Session        *models.Session
	Incoming       models.InboundMessage
	Classification models.Classification
	Recent         []models.MemoryItem
	Semantic       []models.ScoredMemory
	Identity       *models.IdentityBinding
	Personality    Personality

	// EmotionalState is an optional hint forwarded to the engine.
	EmotionalState string
}

// defaultParams are the sampling parameters used when the personality does
// not override them.
var defaultParams = engine.Params{
	Temperature:      0.9,
	TopP:             0.95,
	FrequencyPenalty: 0.3,
	PresencePenalty:  0.3,
}

// maxHistoryTurns bounds how much recent memory lands in the request.
const maxHistoryTurns = 20

// Compose builds the engine request. Pure function of its input.
func Compose(in Input) engine.Request {
	params := defaultParams
	if in.Personality.Params != nil {
		params = *in.Personality.Params
	}
	req := engine.Request{
		SystemPrompt:    systemPrompt(in),
		History:         history(in.Recent),
		UserInput:       in.Incoming.Text,
		CapabilityFlags: in.Personality.CapabilityFlags,
		Params:          params,
		Hints: engine.Hints{
			Classification: in.Classification,
			EmotionalState: in.EmotionalState,
		},
	}
	return req
}

func systemPrompt(in Input) string {
	var b strings.Builder
	p := in.Personality
	fmt.Fprintf(&b, "You are %s. %s\n", p.Name, p.Description)

	if len(p.StyleRules) > 0 {
		b.WriteString("\nStyle:\n")
		for _, rule := range p.StyleRules {
			fmt.Fprintf(&b, "- %s\n", rule)
		}
	}
	if len(p.Lore) > 0 {
		b.WriteString("\nBackground:\n")
		for _, l := range p.Lore {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}

	if in.Identity != nil {
		fmt.Fprintf(&b, "\nYou are talking to a known member (%s on %s",
			in.Identity.PlatformID, in.Identity.Platform)
		if in.Identity.Verified {
			b.WriteString(", verified")
		}
		b.WriteString(").\n")
	}

	if len(in.Semantic) > 0 {
		b.WriteString("\nRelevant things you remember:\n")
		for _, sm := range in.Semantic {
			fmt.Fprintf(&b, "- %s\n", sm.Item.Body.Text)
		}
	}

	if in.Session != nil && in.Session.Raid != nil &&
		in.Session.Raid.Status == models.RaidActive {
		fmt.Fprintf(&b, "\nA raid against %s is live in this room; rally participation.\n",
			in.Session.Raid.TargetRef)
	}
	return b.String()
}

// history converts recent message-kind memory into engine turns, oldest
// first, capped at maxHistoryTurns.
func history(recent []models.MemoryItem) []engine.Turn {
	turns := make([]engine.Turn, 0, len(recent))
	// Recency reads arrive newest-first; the engine wants oldest-first.
	for i := len(recent) - 1; i >= 0; i-- {
		item := recent[i]
		if item.Kind != models.MemoryKindMessage {
			continue
		}
		role := models.RoleUser
		if r, ok := item.Body.Fields["role"].(string); ok {
			role = r
		}
		turns = append(turns, engine.Turn{Role: role, Text: item.Body.Text})
	}
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	return turns
}
