package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfi-assistant/server/internal/agent/llm"
	"github.com/rfi-assistant/server/internal/agent/llm/llmtest"
	"github.com/rfi-assistant/server/internal/agent/metrics"
	"github.com/rfi-assistant/server/internal/agent/model"
	errx "github.com/rfi-assistant/server/internal/core/error"
)

func convCfg() model.ConversationConfig {
	return model.ConversationConfig{ContextTurns: 6, SummaryWordCap: 300}
}

func TestRoutes(t *testing.T) {
	failed := &model.ConversationState{Error: errx.RetrievalEmpty()}

	tests := []struct {
		name  string
		route Route
		state *model.ConversationState
		want  string
	}{
		{"error short-circuits", RouteOnError(NodeClassify), failed, NodeRespond},
		{"no error continues", RouteOnError(NodeClassify), &model.ConversationState{}, NodeClassify},
		{"tabular generates", RouteAfterClassify, &model.ConversationState{QueryClass: model.ClassTabularInsight}, NodeGenerate},
		{"lookup generates", RouteAfterClassify, &model.ConversationState{QueryClass: model.ClassRecordLookup}, NodeGenerate},
		{"reference retrieves", RouteAfterClassify, &model.ConversationState{QueryClass: model.ClassDomainReference}, NodeRetrieve},
		{"general retrieves", RouteAfterClassify, &model.ConversationState{QueryClass: model.ClassGeneral}, NodeRetrieve},
		{"classify error responds", RouteAfterClassify, failed, NodeRespond},
		{"tabular synthesizes", RouteAfterExecute, &model.ConversationState{QueryClass: model.ClassTabularInsight}, NodeSynthesize},
		{"lookup after execute", RouteAfterExecute, &model.ConversationState{QueryClass: model.ClassRecordLookup}, NodeLookup},
		{"execute error responds", RouteAfterExecute, failed, NodeRespond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.route(tt.state))
		})
	}
}

func TestPreserveCitations(t *testing.T) {
	tests := []struct {
		name      string
		original  string
		rewritten string
		want      string
	}{
		{
			name:      "kept",
			original:  "Does ACI 318-19 allow this?",
			rewritten: "Does ACI 318-19 allow lap splices in coupling beams?",
			want:      "Does ACI 318-19 allow lap splices in coupling beams?",
		},
		{
			name:      "altered citation appended",
			original:  "What does ASCE 7-16 say about drift?",
			rewritten: "What does ASCE 7 say about story drift limits?",
			want:      "What does ASCE 7 say about story drift limits? (ASCE 7-16)",
		},
		{
			name:      "dropped record number appended",
			original:  "status of RFI 0016.1?",
			rewritten: "What is the status of that request?",
			want:      "What is the status of that request? (RFI 0016.1)",
		},
		{
			name:      "plain words ignored",
			original:  "What is the slab thickness?",
			rewritten: "What is the slab thickness on level 2?",
			want:      "What is the slab thickness on level 2?",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PreserveCitations(tt.original, tt.rewritten))
		})
	}
}

func TestEnsureSourceList(t *testing.T) {
	sources := []model.Source{
		{Index: 1, Label: "spec-05-12.pdf", Ref: "a"},
		{Index: 2, Label: "RFI 0016", Ref: "RFI 0016"},
	}

	got := EnsureSourceList("Bolts are F1554 [2][1]. See also [7].", sources)
	assert.Equal(t, "Bolts are F1554 [2][1]. See also [7].\n\nSources:\n[1] spec-05-12.pdf (a)\n[2] RFI 0016", got)

	withList := "Bolts are F1554 [1].\n\nSources:\n[1] spec"
	assert.Equal(t, withList, EnsureSourceList(withList, sources))

	assert.Equal(t, "No citations here.", EnsureSourceList("No citations here.", sources))
	assert.Equal(t, "Cites [1].", EnsureSourceList("Cites [1].", nil))
}

func TestMergeSummaryIsSuperset(t *testing.T) {
	prior := "Project: Tower A.\nRFI 0016 is closed."

	merged := MergeSummary(prior, "rfi 0016 is   closed.\nAnchor bolts are F1554.")
	assert.Equal(t, "rfi 0016 is   closed.\nAnchor bolts are F1554.\nProject: Tower A.", merged)

	for _, line := range strings.Split(prior, "\n") {
		assert.Contains(t, normalize(merged), normalize(line))
	}

	assert.Equal(t, prior, MergeSummary(prior, "  "))
	assert.Equal(t, "fresh", MergeSummary("", "fresh"))
}

func TestClipPreview(t *testing.T) {
	assert.Equal(t, "Anchor bolt grade for Tower", ClipPreview("Anchor bolt grade for Tower A project"))
	assert.Equal(t, "RFI 0016 status", ClipPreview(`"RFI 0016 status"`))
	assert.Equal(t, model.NewChatPreview, ClipPreview("   "))
}

func stateWith(turn string) *model.ConversationState {
	return model.NewConversationState(model.ThreadContext{Summary: "prior"}, turn)
}

func TestClassifierNormalizesSubclass(t *testing.T) {
	chat := llmtest.Fixed(`{"rewritten_query":"How many RFIs are open?","query_class":"tabular_insight","query_subclass":""}`)
	c := NewClassifier(llm.New(chat, "classifier"), convCfg())

	out, err := c.Classify(context.Background(), stateWith("How many RFIs are open?"))
	require.NoError(t, err)
	assert.Equal(t, model.ClassTabularInsight, out.QueryClass)
	assert.Equal(t, model.SubclassDeterministic, out.QuerySubclass)

	msgs := chat.LastInput()
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "prior")
	assert.Equal(t, "How many RFIs are open?", msgs[1].Content)

	chat = llmtest.Fixed(`{"rewritten_query":"What is ACI 318?","query_class":"domain_reference","query_subclass":"needs_model"}`)
	c = NewClassifier(llm.New(chat, "classifier"), convCfg())
	out, err = c.Classify(context.Background(), stateWith("What is ACI 318?"))
	require.NoError(t, err)
	assert.Equal(t, model.SubclassNone, out.QuerySubclass)
}

func TestClassifyNodeErrors(t *testing.T) {
	tests := []struct {
		name string
		chat *llmtest.ScriptedModel
		want errx.Kind
	}{
		{"invalid class", llmtest.Fixed(`{"rewritten_query":"x","query_class":"weather"}`), errx.KindClassificationFailure},
		{"not json", llmtest.Fixed("I think this is tabular"), errx.KindClassificationFailure},
		{"transport", llmtest.Failing(errors.New("quota exceeded")), errx.KindUpstreamFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(llm.New(tt.chat, "classifier"), convCfg())
			state, err := classifyFunc(c, nil)(context.Background(), stateWith("anything"))
			require.NoError(t, err)
			require.NotNil(t, state.Error)
			assert.Equal(t, tt.want, state.Error.Kind)
			assert.Empty(t, state.QueryClass)
		})
	}
}

func TestClassifyNodeRecordsRewriteAndRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	chat := llmtest.Fixed(`{"rewritten_query":"Which RFIs mention the slab?","query_class":"record_lookup","query_subclass":"deterministic"}`)
	c := NewClassifier(llm.New(chat, "classifier"), convCfg())

	state, err := classifyFunc(c, m)(context.Background(), stateWith("Which ones mention the slab?"))
	require.NoError(t, err)
	assert.Nil(t, state.Error)
	assert.Equal(t, model.ClassRecordLookup, state.QueryClass)
	assert.Equal(t, model.SubclassNone, state.QuerySubclass)
	assert.Equal(t, []string{"Which RFIs mention the slab?"}, state.PreviousRewrites)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Routes.WithLabelValues("record_lookup")))
}

func synthesisReply(answer, summary, preview string) string {
	return `{"answer":` + quote(answer) + `,"updated_summary":` + quote(summary) + `,"thread_preview":` + quote(preview) + `}`
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

func TestSynthesizerRepairsOnce(t *testing.T) {
	chat := llmtest.Sequence("not json at all", synthesisReply("Slab is 8 in. [1]", "prior\nSlab is 8 in.", "Slab thickness"))
	s := NewSynthesizer(llm.New(chat, "synthesis"), convCfg())

	state := stateWith("How thick is the slab?")
	state.QueryClass = model.ClassDomainReference
	state.RankedChunks = []model.Chunk{{ID: "b", Source: "drawings-s201.pdf", Snippet: "Slab thickness is 8 inches."}}

	out, err := s.Synthesize(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, 2, chat.Calls())
	assert.Equal(t, "Slab is 8 in. [1]\n\nSources:\n[1] drawings-s201.pdf (b)", out.Answer)
	assert.Equal(t, "Slab thickness", out.ThreadPreview)
	assert.Equal(t, []model.Source{{Index: 1, Label: "drawings-s201.pdf", Ref: "b"}}, state.Sources)

	system := chat.LastInput()[0].Content
	assert.Contains(t, system, "[1] drawings-s201.pdf\nSlab thickness is 8 inches.")
}

func TestSynthesizeNodeFailureKinds(t *testing.T) {
	tests := []struct {
		name  string
		chat  *llmtest.ScriptedModel
		want  errx.Kind
		calls int
	}{
		{"invalid twice", llmtest.Fixed(`{"answer":""}`), errx.KindSynthesisFailure, 2},
		{"transport", llmtest.Failing(errors.New("unavailable")), errx.KindUpstreamFailure, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSynthesizer(llm.New(tt.chat, "synthesis"), convCfg())
			state := stateWith("question")
			state.QueryClass = model.ClassGeneral

			state, err := synthesizeFunc(s)(context.Background(), state)
			require.NoError(t, err)
			require.NotNil(t, state.Error)
			assert.Equal(t, tt.want, state.Error.Kind)
			assert.Empty(t, state.FinalAnswer)
			assert.Equal(t, tt.calls, tt.chat.Calls())
		})
	}
}

func TestSynthesizeKeepsTabularReport(t *testing.T) {
	chat := llmtest.Fixed(synthesisReply("Three closed requests.", "prior\nTurnaround is 3 days.", "Turnaround"))
	s := NewSynthesizer(llm.New(chat, "synthesis"), convCfg())

	state := stateWith("average turnaround?")
	state.QueryClass = model.ClassTabularInsight
	state.FinalAnswer = "SUMMARY:\nAverage turnaround is 3 business days."

	state, err := synthesizeFunc(s)(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, "SUMMARY:\nAverage turnaround is 3 business days.", state.FinalAnswer)
	assert.Equal(t, "prior\nTurnaround is 3 days.", state.History)
	assert.Equal(t, "Turnaround", state.ThreadPreview)
	assert.Contains(t, chat.LastInput()[0].Content, "Average turnaround is 3 business days.")
}

func TestRespondNode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	respond := respondFunc(m)

	state, err := respond(context.Background(), &model.ConversationState{Error: errx.RetrievalEmpty()})
	require.NoError(t, err)
	assert.Equal(t, errx.NotFoundMessage, state.FinalAnswer)
	assert.Equal(t, errx.KindRetrievalEmpty, state.Outcome)
	assert.Nil(t, state.Error)

	state, err = respond(context.Background(), &model.ConversationState{})
	require.NoError(t, err)
	assert.Equal(t, errx.FallbackMessage, state.FinalAnswer)

	state, err = respond(context.Background(), &model.ConversationState{FinalAnswer: "done"})
	require.NoError(t, err)
	assert.Equal(t, "done", state.FinalAnswer)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("retrieval_empty")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("ok")))
}

func TestTracePostHandler(t *testing.T) {
	stats := &model.RunStats{}
	state := &model.ConversationState{}

	_, err := NewTracePostHandler(NodeCheckQuery)(context.Background(), state, stats)
	require.NoError(t, err)
	_, err = NewTracePostHandler(NodeRespond)(context.Background(), state, stats)
	require.NoError(t, err)

	assert.Equal(t, []string{NodeCheckQuery, NodeRespond}, state.Trace)
	stats.Visited[0] = "mutated"
	assert.Equal(t, NodeCheckQuery, state.Trace[0])
}
