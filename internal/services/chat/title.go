package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/iyunix/go-madlen/internal/services/ai"
)

const (
	maxTitleRunes   = 200
	errorBufferSize = 32
	dequeueBackoff  = time.Second
)

// InitialTitle is the placeholder title a chat gets from its first turn:
// the first n runes of the text followed by "...". An image-only turn is
// titled from the image marker.
func InitialTitle(content string, hasImage bool, n int) string {
	source := strings.TrimSpace(content)
	if source == "" && hasImage {
		source = strings.TrimSpace(ImageMarker)
	}
	runes := []rune(source)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes) + "..."
}

// CleanTitle strips whitespace and wrapping quotes from a model-written
// title and keeps only its first line.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, " \t\"'`“”‘’")
	title = strings.TrimSpace(title)

	if runes := []rune(title); len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	return title
}

// TitleWorker consumes TitleJobs and overwrites chat titles with a short
// summary. Failures never reach the request that queued the job; they are
// published on Errors.
type TitleWorker struct {
	config     *Config
	queue      TitleQueue
	summarizer ai.Summarizer
	store      TitleStore
	logger     Logger

	errs chan error
	wg   sync.WaitGroup
}

func NewTitleWorker(config *Config, queue TitleQueue, summarizer ai.Summarizer, store TitleStore, logger Logger) *TitleWorker {
	return &TitleWorker{
		config:     config,
		queue:      queue,
		summarizer: summarizer,
		store:      store,
		logger:     logger,
		errs:       make(chan error, errorBufferSize),
	}
}

// Errors reports failed jobs. It is closed once Wait returns.
func (w *TitleWorker) Errors() <-chan error {
	return w.errs
}

// Start launches the configured number of consumers. They stop when ctx is
// cancelled or the queue is closed.
func (w *TitleWorker) Start(ctx context.Context) {
	for i := 0; i < w.config.TitleWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
	w.logger.Info("title workers started", "count", w.config.TitleWorkers)
}

// Wait blocks until every consumer has exited, then closes Errors.
func (w *TitleWorker) Wait() {
	w.wg.Wait()
	close(w.errs)
}

func (w *TitleWorker) run(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				w.logger.Debug("title worker stopping", "worker", id)
				return
			}
			w.report(NewBackgroundError("dequeue", "", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		if err := w.Process(ctx, job); err != nil {
			w.report(err)
		}
	}
}

// Process runs a single job under its own deadline.
func (w *TitleWorker) Process(ctx context.Context, job TitleJob) error {
	ctx, cancel := context.WithTimeout(ctx, w.config.TitleTimeout)
	defer cancel()

	raw, err := w.summarizer.Summarize(ctx, w.config.TitleModel, w.config.TitleInstruction, job.FirstMessage)
	if err != nil {
		return NewBackgroundError("summarize", job.ChatID, err)
	}

	title := CleanTitle(raw)
	if title == "" {
		w.logger.Debug("empty generated title, keeping placeholder", "chat_id", job.ChatID)
		return nil
	}

	if _, err := w.store.UpdateTitle(ctx, job.ChatID, title); err != nil {
		return NewBackgroundError("update_title", job.ChatID, err)
	}

	w.logger.Info("chat title generated", "chat_id", job.ChatID, "title", title)
	return nil
}

func (w *TitleWorker) report(err error) {
	select {
	case w.errs <- err:
	default:
		w.logger.Warn("title error channel full, dropping error", "error", err)
	}
}

// DrainErrors logs every error published by w until the channel closes.
func DrainErrors(w *TitleWorker, logger Logger) {
	for err := range w.Errors() {
		var chatErr *ChatError
		if errors.As(err, &chatErr) {
			logger.Error("title generation failed",
				"operation", chatErr.Operation,
				"chat_id", chatErr.ChatID,
				"error", chatErr.Cause)
			continue
		}
		logger.Error("title generation failed", "error", err)
	}
}
