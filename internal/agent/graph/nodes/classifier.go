package nodes

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/rfi-assistant/server/internal/agent/graph/conversations"
	"github.com/rfi-assistant/server/internal/agent/graph/prompts"
	"github.com/rfi-assistant/server/internal/agent/llm"
	"github.com/rfi-assistant/server/internal/agent/model"
)

// Classification is the single structured reply that rewrites and classifies
// the latest turn.
type Classification struct {
	RewrittenQuery string              `json:"rewritten_query"`
	QueryClass     model.QueryClass    `json:"query_class"`
	QuerySubclass  model.QuerySubclass `json:"query_subclass"`
}

func (c Classification) Validate() error {
	if strings.TrimSpace(c.RewrittenQuery) == "" {
		return errors.New("rewritten_query is empty")
	}
	if !c.QueryClass.Valid() {
		return fmt.Errorf("unknown query_class %q", c.QueryClass)
	}
	if c.QuerySubclass != model.SubclassNone && !c.QuerySubclass.Valid() {
		return fmt.Errorf("unknown query_subclass %q", c.QuerySubclass)
	}
	return nil
}

// Classifier rewrites the latest turn into a self-contained query and
// assigns its class in one call.
type Classifier struct {
	client       *llm.Client
	contextTurns int
}

func NewClassifier(client *llm.Client, cfg model.ConversationConfig) *Classifier {
	return &Classifier{client: client, contextTurns: cfg.ContextTurns}
}

// Classify returns a normalized classification. The subclass is only kept
// for tabular queries and defaults to deterministic there.
func (c *Classifier) Classify(ctx context.Context, state *model.ConversationState) (Classification, error) {
	turn := state.LatestTurn()
	system, err := prompts.RenderClassifySystem(ctx, prompts.ClassifyVars{
		Summary:          state.History,
		RecentTurns:      conversations.PriorTurns(state.Messages, c.contextTurns),
		PreviousRewrites: state.PreviousRewrites,
	})
	if err != nil {
		return Classification{}, err
	}

	out, err := llm.Structured[Classification](ctx, c.client, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(turn),
	})
	if err != nil {
		return Classification{}, err
	}

	out.RewrittenQuery = PreserveCitations(turn, strings.TrimSpace(out.RewrittenQuery))
	switch {
	case out.QueryClass != model.ClassTabularInsight:
		out.QuerySubclass = model.SubclassNone
	case out.QuerySubclass == model.SubclassNone:
		out.QuerySubclass = model.SubclassDeterministic
	}
	return out, nil
}

// citationRe matches acronyms and standard or record citations such as
// "ACI 318-19", "IBC", "RFI 0016.1" or "S-201".
var citationRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]+(?:[ -]\d[\w.\-]*)?\b`)

// PreserveCitations appends citation tokens of original that the rewrite
// dropped or altered, so downstream search still sees them verbatim.
func PreserveCitations(original, rewritten string) string {
	var missing []string
	seen := map[string]bool{}
	for _, tok := range citationRe.FindAllString(original, -1) {
		tok = strings.TrimRight(tok, ".-")
		if seen[tok] || strings.Contains(rewritten, tok) {
			continue
		}
		seen[tok] = true
		missing = append(missing, tok)
	}
	if len(missing) == 0 {
		return rewritten
	}
	return strings.TrimSpace(rewritten + " (" + strings.Join(missing, ", ") + ")")
}
