package model

// ChunkMeta describes one stored chunk of a source document. The JSON keys
// are the persisted metadata format and must stay stable across versions.
type ChunkMeta struct {
	Filename    string `json:"filename"`
	ChunkIndex  int    `json:"chunk_index"`
	ChunkText   string `json:"chunk_text"`
	FilePath    string `json:"file_path"`
	TotalChunks int    `json:"total_chunks"`
}

// SearchResult pairs a stored chunk with its similarity score in (0, 1],
// higher meaning more similar. Results are never persisted.
type SearchResult struct {
	Meta  ChunkMeta `json:"meta"`
	Score float64   `json:"score"`
}

// IndexStats summarizes the current state of a vector store.
type IndexStats struct {
	TotalVectors int `json:"total_vectors"`
	Dimension    int `json:"dimension"`
	Documents    int `json:"documents"`
}
