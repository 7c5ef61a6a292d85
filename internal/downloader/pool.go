package downloader

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"igrelay/pkg/logger"
	"igrelay/pkg/models"
	"igrelay/pkg/storage"
)

// MediaDownloader fetches a media asset
type MediaDownloader interface {
	Download(ctx context.Context, url string, maxBytes int64) ([]byte, error)
}

// Options tune how each item is downloaded
type Options struct {
	// MaxFileSize caps a single asset in bytes; zero means unlimited
	MaxFileSize int64
	// ItemTimeout bounds a single asset download; zero means no bound
	ItemTimeout time.Duration
}

// job is a single item of a fetch
type job struct {
	ctx     context.Context
	index   int
	item    models.MediaItem
	name    string
	batch   *storage.Batch
	results chan<- result
}

// result is the outcome of a job
type result struct {
	index      int
	attachment models.Attachment
	size       int
	err        error
	duration   time.Duration
}

// WorkerPool downloads post media with a fixed number of long-lived workers
type WorkerPool struct {
	numWorkers int
	jobQueue   chan job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	stopped    bool
	stopMu     sync.RWMutex
	client     MediaDownloader
	storage    *storage.Manager
	options    Options
	logger     logger.Logger
}

// NewWorkerPool creates a new download worker pool
func NewWorkerPool(
	numWorkers int,
	client MediaDownloader,
	storageManager *storage.Manager,
	options Options,
	log logger.Logger,
) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		numWorkers: numWorkers,
		jobQueue:   make(chan job, numWorkers*2),
		ctx:        ctx,
		cancel:     cancel,
		client:     client,
		storage:    storageManager,
		options:    options,
		logger:     log,
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels in-flight downloads and waits for the workers to exit
func (wp *WorkerPool) Stop() {
	wp.stopMu.Lock()
	if wp.stopped {
		wp.stopMu.Unlock()
		return
	}
	wp.stopped = true
	wp.cancel()
	close(wp.jobQueue)
	wp.stopMu.Unlock()

	wp.wg.Wait()
	wp.logger.Info("Worker pool stopped")
}

// Fetch downloads every item of post into a fresh staging batch and returns
// the attachments in item order. On any failure the remaining downloads are
// cancelled, the batch is removed and the first error is returned.
func (wp *WorkerPool) Fetch(ctx context.Context, post *models.Post) (*models.Bundle, error) {
	if len(post.Items) == 0 {
		return nil, fmt.Errorf("post %s has no media", post.Shortcode)
	}

	batch, err := wp.storage.NewBatch(post.Shortcode)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result, len(post.Items))
	submitted := 0
	var firstErr error

	for i, item := range post.Items {
		j := job{
			ctx:     fetchCtx,
			index:   i,
			item:    item,
			name:    storage.FileName(post.Owner, post.Shortcode, i, item.Kind),
			batch:   batch,
			results: results,
		}
		if err := wp.submit(fetchCtx, j); err != nil {
			firstErr = err
			break
		}
		submitted++
	}

	attachments := make([]models.Attachment, len(post.Items))
	for n := 0; n < submitted; n++ {
		res := <-results
		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("item %d: %w", res.index, res.err)
			}
			cancel()
			continue
		}
		attachments[res.index] = res.attachment
	}

	if firstErr != nil {
		if err := batch.Cleanup(); err != nil {
			wp.logger.WithError(err).Warn("Failed to clean up staging batch")
		}
		return nil, firstErr
	}

	return models.NewBundle(attachments, batch.Cleanup), nil
}

// submit queues a job unless ctx or the pool is done
func (wp *WorkerPool) submit(ctx context.Context, j job) error {
	wp.stopMu.RLock()
	defer wp.stopMu.RUnlock()

	if wp.stopped {
		return fmt.Errorf("worker pool is shutting down")
	}

	select {
	case wp.jobQueue <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// worker is the main worker routine
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for j := range wp.jobQueue {
		j.results <- wp.processJob(j, id)
	}
}

// processJob downloads and stages a single item
func (wp *WorkerPool) processJob(j job, workerID int) result {
	start := time.Now()
	res := result{index: j.index}

	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(wp.ctx, cancel)
	defer stop()

	if wp.options.ItemTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, wp.options.ItemTimeout)
		defer timeoutCancel()
	}

	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	fields := map[string]interface{}{
		"worker_id": workerID,
		"file":      j.name,
	}

	data, err := wp.client.Download(ctx, j.item.URL, wp.options.MaxFileSize)
	if err != nil {
		res.err = fmt.Errorf("download failed: %w", err)
		res.duration = time.Since(start)
		wp.logger.WithError(err).WarnWithFields("Worker failed to download media", fields)
		return res
	}
	res.size = len(data)

	path, err := j.batch.Stage(bytes.NewReader(data), j.name)
	if err != nil {
		res.err = fmt.Errorf("staging failed: %w", err)
		res.duration = time.Since(start)
		wp.logger.WithError(err).ErrorWithFields("Worker failed to stage media", fields)
		return res
	}

	res.attachment = models.Attachment{Kind: j.item.Kind, Path: path}
	res.duration = time.Since(start)

	fields["size"] = res.size
	fields["duration"] = res.duration
	wp.logger.DebugWithFields("Worker completed job successfully", fields)

	return res
}

// QueueSize returns the current number of jobs in the queue
func (wp *WorkerPool) QueueSize() int {
	return len(wp.jobQueue)
}

// Workers returns the number of workers
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}
