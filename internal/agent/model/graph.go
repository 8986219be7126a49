package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
	errx "github.com/rfi-assistant/server/internal/core/error"
	"github.com/rfi-assistant/server/internal/dataset"
)

// MaxPreviousRewrites caps the FIFO of prior rewrites carried per thread.
const MaxPreviousRewrites = 10

// NewChatPreview labels threads with no substantive content yet.
const NewChatPreview = "New chat"

// QueryClass is the resolution category assigned by the classifier.
type QueryClass string

const (
	ClassTabularInsight  QueryClass = "tabular_insight"
	ClassRecordLookup    QueryClass = "record_lookup"
	ClassDomainReference QueryClass = "domain_reference"
	ClassGeneral         QueryClass = "general"
)

func (c QueryClass) Valid() bool {
	switch c {
	case ClassTabularInsight, ClassRecordLookup, ClassDomainReference, ClassGeneral:
		return true
	}
	return false
}

// UsesGeneratedCode reports whether the class resolves through generate/execute.
func (c QueryClass) UsesGeneratedCode() bool {
	return c == ClassTabularInsight || c == ClassRecordLookup
}

// QuerySubclass refines ClassTabularInsight only.
type QuerySubclass string

const (
	SubclassNone          QuerySubclass = ""
	SubclassNeedsModel    QuerySubclass = "needs_model"
	SubclassDeterministic QuerySubclass = "deterministic"
)

func (s QuerySubclass) Valid() bool {
	return s == SubclassNeedsModel || s == SubclassDeterministic
}

// ConversationState is threaded through every node of one Resolve call.
// It is owned by the router for the duration of the invocation; nodes
// receive the pointer and return it.
type ConversationState struct {
	Messages         []*schema.Message
	QueryClass       QueryClass
	QuerySubclass    QuerySubclass
	RewrittenQuery   string
	PreviousRewrites []string
	History          string
	ThreadPreview    string

	// Tabular path.
	Code   string
	Output string

	RecordMatches []dataset.Record
	LookupContext string
	RankedChunks  []Chunk
	Sources       []Source

	FinalAnswer string
	Error       *errx.AppError

	// Outcome records the error kind consumed by the responder.
	Outcome errx.Kind
	Trace   []string
}

// NewConversationState builds a fresh state for one request.
func NewConversationState(tc ThreadContext, newTurn string) *ConversationState {
	msgs := make([]*schema.Message, 0, len(tc.Messages)+1)
	msgs = append(msgs, tc.Messages...)
	msgs = append(msgs, schema.UserMessage(newTurn))

	rewrites := make([]string, 0, MaxPreviousRewrites)
	rewrites = append(rewrites, tc.PreviousRewrites...)
	if len(rewrites) > MaxPreviousRewrites {
		rewrites = rewrites[len(rewrites)-MaxPreviousRewrites:]
	}

	return &ConversationState{
		Messages:         msgs,
		PreviousRewrites: rewrites,
		History:          tc.Summary,
	}
}

// LatestTurn returns the content of the most recent user message.
func (s *ConversationState) LatestTurn() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i] != nil && s.Messages[i].Role == schema.User {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Query is the text downstream components work on.
func (s *ConversationState) Query() string {
	if q := strings.TrimSpace(s.RewrittenQuery); q != "" {
		return q
	}
	return s.LatestTurn()
}

// AddRewrite appends a rewrite, evicting the oldest beyond MaxPreviousRewrites.
func (s *ConversationState) AddRewrite(rewrite string) {
	rewrite = strings.TrimSpace(rewrite)
	if rewrite == "" {
		return
	}
	s.PreviousRewrites = append(s.PreviousRewrites, rewrite)
	if over := len(s.PreviousRewrites) - MaxPreviousRewrites; over > 0 {
		s.PreviousRewrites = append([]string(nil), s.PreviousRewrites[over:]...)
	}
}

func (s *ConversationState) Fail(err *errx.AppError) {
	s.Error = err
}

func (s *ConversationState) HasError() bool {
	return s.Error != nil
}

// RunStats is the graph local state. Post-handlers append visited node names.
type RunStats struct {
	Visited []string
}

// ThreadContext is the caller-provided context for one turn.
type ThreadContext struct {
	ThreadID         string
	Messages         []*schema.Message // already truncated to the last N turns
	Summary          string
	PreviousRewrites []string
}

// Result is handed back to the request handler.
type Result struct {
	FinalAnswer      string        `json:"final_answer"`
	UpdatedSummary   string        `json:"updated_summary"`
	ThreadPreview    string        `json:"thread_preview"`
	QueryClass       QueryClass    `json:"query_class,omitempty"`
	QuerySubclass    QuerySubclass `json:"query_subclass,omitempty"`
	RewrittenQuery   string        `json:"rewritten_query,omitempty"`
	PreviousRewrites []string      `json:"previous_rewrites,omitempty"`
	Code             string        `json:"code,omitempty"`
	Output           string        `json:"output,omitempty"`
	Sources          []Source      `json:"sources,omitempty"`
	ErrorKind        errx.Kind     `json:"error_kind,omitempty"`
	Trace            []string      `json:"trace,omitempty"`
	CostUSD          float64       `json:"cost_usd"`
}
