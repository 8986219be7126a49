package model

// Chunk is one retrieved document snippet.
type Chunk struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Snippet  string            `json:"snippet"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float32           `json:"score"`
}

// Source is one entry of the numbered source list cited by the answer.
type Source struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Ref   string `json:"ref,omitempty"`
}
