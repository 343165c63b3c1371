package models

// SearchQuery is a hybrid retrieval request: exact metadata filters
// combined with semantic similarity to a query embedding. Callers either
// supply the embedding or the text to embed; when both are set the embedding
// is used and the text is only logged.
type SearchQuery struct {
	Text           string         `json:"text,omitempty"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Schema         string         `json:"schema"`
	Table          string         `json:"table,omitempty"`
	MetadataFilter map[string]any `json:"metadata_filter,omitempty"`
	Limit          int            `json:"limit"`
}

// SearchHit is one retrieval result. Similarity is in [0, 1].
type SearchHit struct {
	ID         string         `json:"id"`
	Table      string         `json:"table"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
}

// SearchRequest is a SearchQuery plus the caller identity recorded in the
// search log.
type SearchRequest struct {
	SearchQuery
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// SearchResponse is the result of a logged search.
type SearchResponse struct {
	Hits      []SearchHit `json:"hits"`
	QueryType string      `json:"query_type"`
	LatencyMs int64       `json:"latency_ms"`
}
