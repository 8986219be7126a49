package nodes

// Graph node names. They double as trace entries and metric labels.
const (
	NodeCheckQuery = "check_query"
	NodeClassify   = "classify_and_rewrite"
	NodeGenerate   = "generate"
	NodeExecute    = "execute"
	NodeLookup     = "lookup"
	NodeRetrieve   = "retrieve"
	NodeRerank     = "rerank"
	NodeSynthesize = "synthesize"
	NodeRespond    = "respond"
)
