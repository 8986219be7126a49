package model

import "time"

// ================ Models ================

// ChatModelSettings is the provider-neutral view of one chat model config.
type ChatModelSettings struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

type ClassifierModelConfig struct {
	Model       string  `envconfig:"CLASSIFIER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"CLASSIFIER_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" default:"0"`
}

func (c ClassifierModelConfig) Settings() ChatModelSettings {
	return ChatModelSettings{Model: c.Model, MaxTokens: c.MaxTokens, Temperature: c.Temperature}
}

type CodegenModelConfig struct {
	Model       string  `envconfig:"CODEGEN_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"CODEGEN_MAX_TOKENS" default:"4096"`
	Temperature float32 `envconfig:"CODEGEN_TEMPERATURE" default:"0"`
}

func (c CodegenModelConfig) Settings() ChatModelSettings {
	return ChatModelSettings{Model: c.Model, MaxTokens: c.MaxTokens, Temperature: c.Temperature}
}

type SynthesisModelConfig struct {
	Model       string  `envconfig:"SYNTHESIS_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"SYNTHESIS_MAX_TOKENS" default:"4096"`
	Temperature float32 `envconfig:"SYNTHESIS_TEMPERATURE" default:"0.2"`
}

func (c SynthesisModelConfig) Settings() ChatModelSettings {
	return ChatModelSettings{Model: c.Model, MaxTokens: c.MaxTokens, Temperature: c.Temperature}
}

// FastModelConfig backs cheap calls: guardrail classifier, reranker, report
// formatting and per-row calls made by generated code.
type FastModelConfig struct {
	Model       string  `envconfig:"FAST_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"FAST_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"FAST_TEMPERATURE" default:"0"`
}

func (c FastModelConfig) Settings() ChatModelSettings {
	return ChatModelSettings{Model: c.Model, MaxTokens: c.MaxTokens, Temperature: c.Temperature}
}

// ================ Guardrail ================

type GuardrailConfig struct {
	CacheTTL   time.Duration `envconfig:"GUARDRAIL_CACHE_TTL" default:"1h"`
	CacheSize  int           `envconfig:"GUARDRAIL_CACHE_SIZE" default:"1024"`
	SecretScan bool          `envconfig:"GUARDRAIL_SECRET_SCAN" default:"true"`

	// ModerationModel is a Gemini model whose safety feedback serves as the moderation verdict.
	ModerationModel string `envconfig:"GUARDRAIL_MODERATION_MODEL" default:"gemini-2.5-flash-lite"`
}

// ================ Retrieval ================

type RetrievalConfig struct {
	Backend        string `envconfig:"RETRIEVAL_BACKEND" default:"chromem"`
	TopK           int    `envconfig:"RETRIEVAL_TOP_K" default:"50"`
	RerankTopN     int    `envconfig:"RERANK_TOP_N" default:"15"`
	Namespace      string `envconfig:"RETRIEVAL_NAMESPACE"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`

	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey     string `envconfig:"QDRANT_API_KEY"`
	QdrantUseTLS     bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"project_documents"`

	// ChromemPath persists the embedded index; empty keeps it in memory.
	ChromemPath       string `envconfig:"CHROMEM_PATH"`
	ChromemCollection string `envconfig:"CHROMEM_COLLECTION" default:"project_documents"`
}

// ================ Insight ================

type InsightConfig struct {
	// MaxConcurrentModelCalls bounds per-row model fan-out from generated code.
	MaxConcurrentModelCalls int           `envconfig:"INSIGHT_MAX_CONCURRENT_MODEL_CALLS" default:"5"`
	ModelCallsPerSecond     float64       `envconfig:"INSIGHT_MODEL_CALLS_PER_SECOND" default:"10"`
	ExecTimeout             time.Duration `envconfig:"INSIGHT_EXEC_TIMEOUT" default:"30s"`
	SampleRows              int           `envconfig:"INSIGHT_SAMPLE_ROWS" default:"5"`
	MaxOutputBytes          int           `envconfig:"INSIGHT_MAX_OUTPUT_BYTES" default:"200000"`
}

// ================ Dataset ================

type DatasetConfig struct {
	Path          string `envconfig:"DATASET_PATH" default:"data/rfi_log.csv"`
	SchemaPath    string `envconfig:"DATASET_SCHEMA_PATH"`
	IDColumn      string `envconfig:"DATASET_ID_COLUMN" default:"RFI #"`
	LinkColumn    string `envconfig:"DATASET_LINK_COLUMN" default:"Link"`
	DocumentsRoot string `envconfig:"DOCUMENTS_ROOT"`
}

// ================ Conversation ================

type ConversationConfig struct {
	TTL            time.Duration `envconfig:"CONVERSATION_TTL" default:"168h"`
	MaxTurns       int           `envconfig:"CONVERSATION_MAX_TURNS" default:"20"`
	ContextTurns   int           `envconfig:"CONVERSATION_CONTEXT_TURNS" default:"6"`
	SummaryWordCap int           `envconfig:"CONVERSATION_SUMMARY_WORD_CAP" default:"300"`
	MaxRunSteps    int           `envconfig:"CONVERSATION_MAX_RUN_STEPS" default:"20"`
}
