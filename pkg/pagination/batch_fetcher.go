package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var batchChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "social_batch_chunks_total",
	Help: "Total id chunks fetched by batch lookups by result",
}, []string{"result"})

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests.
	// Lookup endpoints allow 300-900 requests per 15 minutes, so a handful
	// of workers is plenty.
	MaxConcurrency int
	// ChunkSize is the number of ids per request (100 for users/lookup
	// and statuses/lookup).
	ChunkSize int
	// Timeout per chunk fetch
	Timeout time.Duration
}

// DefaultConfig returns safe default configuration for lookup endpoints
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		ChunkSize:      100,
		Timeout:        15 * time.Second,
	}
}

// ChunkFetcher fetches the objects for one chunk of ids.
type ChunkFetcher[T any] func(ctx context.Context, ids []string) ([]T, error)

// ChunkResult represents the result of fetching a single chunk
type ChunkResult[T any] struct {
	Index int
	IDs   []string
	Items []T
	Error error
}

// BatchFetcher splits large id lists into chunks and fetches them in parallel
type BatchFetcher[T any] struct {
	fetch  ChunkFetcher[T]
	config Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher[T any](fetch ChunkFetcher[T], config Config) *BatchFetcher[T] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &BatchFetcher[T]{
		fetch:  fetch,
		config: config,
	}
}

// Chunk splits ids into groups of at most size, skipping empty ids.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var chunks [][]string
	current := make([]string, 0, size)
	for _, id := range ids {
		if id == "" {
			continue
		}
		current = append(current, id)
		if len(current) == size {
			chunks = append(chunks, current)
			current = make([]string, 0, size)
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// FetchAll fetches every id using a worker pool and returns the items in
// chunk order. When some chunks fail it returns the successful items
// together with an error describing the partial result.
func (bf *BatchFetcher[T]) FetchAll(ctx context.Context, ids []string) ([]T, error) {
	start := time.Now()
	chunks := Chunk(ids, bf.config.ChunkSize)
	if len(chunks) == 0 {
		return nil, nil
	}

	log.Info().
		Int("ids", len(ids)).
		Int("chunks", len(chunks)).
		Msg("Starting parallel batch lookup")

	// Buffered to the chunk count so the queue never blocks.
	queue := make(chan int, len(chunks))
	for i := range chunks {
		queue <- i
	}
	close(queue)

	results := make(chan ChunkResult[T], len(chunks))

	workers := bf.config.MaxConcurrency
	if workers > len(chunks) {
		workers = len(chunks)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, chunks, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results
	byIndex := make([][]T, len(chunks))
	fetched := 0
	var firstErr error
	for result := range results {
		if result.Error != nil {
			batchChunksTotal.WithLabelValues("error").Inc()
			if firstErr == nil {
				firstErr = result.Error
			}
			continue
		}
		batchChunksTotal.WithLabelValues("success").Inc()
		byIndex[result.Index] = result.Items
		fetched++
	}

	var items []T
	for _, chunkItems := range byIndex {
		items = append(items, chunkItems...)
	}

	if firstErr == nil && fetched < len(chunks) {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		log.Warn().
			Err(firstErr).
			Int("fetched_chunks", fetched).
			Int("total_chunks", len(chunks)).
			Msg("Batch lookup incomplete - returning partial results")
		return items, fmt.Errorf("batch lookup (partial data: %d/%d chunks): %w", fetched, len(chunks), firstErr)
	}

	log.Info().
		Int("chunks", fetched).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Batch lookup complete")

	return items, nil
}

// worker processes chunks from the queue
func (bf *BatchFetcher[T]) worker(ctx context.Context, chunks [][]string, queue <-chan int, results chan<- ChunkResult[T], wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for idx := range queue {
		// Check context cancellation
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("chunks_processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		chunkCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
		items, err := bf.fetch(chunkCtx, chunks[idx])
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("chunk", idx).
				Msg("Chunk fetch failed")
		}

		results <- ChunkResult[T]{Index: idx, IDs: chunks[idx], Items: items, Error: err}
		processed++
	}

	if processed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("chunks_processed", processed).
			Msg("Worker completed")
	}
}
