// Package embedding turns review text into fixed-size vectors and keeps the
// reviews table's vector column filled. Retrieval over those vectors lives in
// internal/search; this package only produces and stores them.
package embedding

import "context"

const (
	// Dimension is the vector size of the embedding model. Every vector this
	// package produces has exactly this many components.
	Dimension = 768

	// batchSize caps how many texts go into one backend request.
	batchSize = 100

	// maxConcurrentBatches bounds in-flight batch requests.
	maxConcurrentBatches = 4
)

// Embedder produces vectors for document and query text. The two methods use
// different task types because the backend optimizes storage-side and
// query-side vectors differently.
type Embedder interface {
	// EmbedDocuments vectorizes texts for storage. The result always has one
	// vector per input in input order; batches that fail are filled with zero
	// vectors rather than failing the whole call.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery vectorizes one search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ZeroVector returns an all-zero vector of the model dimension. Zero vectors
// mark reviews whose embedding failed; they rank last in similarity order.
func ZeroVector() []float32 {
	return make([]float32, Dimension)
}
