package workers

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/e7canasta/wizard-playback/internal/media"
)

const (
	// SnippetDuration is the length of one preview snippet in seconds.
	SnippetDuration = 0.5

	snippetQueueSize  = 64
	snippetOutQueue   = 8
	snippetCacheSize  = 32
	snippetCacheScale = 100 // cache key resolution: 10 ms
)

// Snippet is a decoded mono preview.
type Snippet struct {
	Path    string
	Time    float64
	Samples []float32
}

type snippetRequest struct {
	stop       bool
	path       string
	time       float64
	sampleRate int
}

type snippetKey struct {
	path       string
	sampleRate int
	centis     int64
}

// SnippetWorker decodes short mono PCM previews on one goroutine.
//
// A stop request empties the queue. Files that fail to
// open and have no audio stream are added to the shared NoAudioPaths set and
// skipped afterwards.
type SnippetWorker struct {
	open     media.AudioOpener
	hasAudio func(path string) bool
	noAudio  *NoAudioPaths

	reqs     chan snippetRequest
	snippets chan Snippet
	cache    *lru.Cache[snippetKey, []float32]

	decoder     media.AudioDecoder
	decoderPath string
	decoderRate int

	decoded   atomic.Uint64
	cacheHits atomic.Uint64
	skipped   atomic.Uint64

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSnippetWorker starts a worker. open defaults to media.OpenAudioDecoder
// and hasAudio to media.HasAudioStream.
func NewSnippetWorker(open media.AudioOpener, hasAudio func(string) bool, noAudio *NoAudioPaths) *SnippetWorker {
	if open == nil {
		open = media.OpenAudioDecoder
	}
	if hasAudio == nil {
		hasAudio = media.HasAudioStream
	}
	if noAudio == nil {
		noAudio = NewNoAudioPaths()
	}
	cache, _ := lru.New[snippetKey, []float32](snippetCacheSize)

	w := &SnippetWorker{
		open:     open,
		hasAudio: hasAudio,
		noAudio:  noAudio,
		reqs:     make(chan snippetRequest, snippetQueueSize),
		snippets: make(chan Snippet, snippetOutQueue),
		cache:    cache,
		stop:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Preview queues a snippet at time seconds of path. Never blocks; requests
// beyond the queue are dropped.
func (w *SnippetWorker) Preview(path string, time float64, sampleRate int) {
	w.enqueue(snippetRequest{path: path, time: time, sampleRate: sampleRate})
}

// StopPreview discards queued previews.
func (w *SnippetWorker) StopPreview() {
	w.enqueue(snippetRequest{stop: true})
}

func (w *SnippetWorker) enqueue(r snippetRequest) {
	select {
	case w.reqs <- r:
	default:
		w.skipped.Add(1)
	}
}

// TryRecv returns the next snippet without blocking.
func (w *SnippetWorker) TryRecv() (Snippet, bool) {
	select {
	case s := <-w.snippets:
		return s, true
	default:
		return Snippet{}, false
	}
}

// Stats returns (decoded, cache hits, skipped) counts.
func (w *SnippetWorker) Stats() (decoded, cacheHits, skipped uint64) {
	return w.decoded.Load(), w.cacheHits.Load(), w.skipped.Load()
}

// Close stops the worker and its decoder.
func (w *SnippetWorker) Close() error {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.wg.Wait()
		w.closeDecoder()
	})
	return nil
}

func (w *SnippetWorker) run() {
	defer w.wg.Done()
	for {
		var req snippetRequest
		select {
		case <-w.stop:
			return
		case req = <-w.reqs:
		}

		if req.stop {
			w.drain()
			continue
		}
		s, ok := w.handle(req)
		if !ok {
			continue
		}
		select {
		case w.snippets <- s:
		case <-w.stop:
			return
		}
	}
}

func (w *SnippetWorker) drain() {
	for {
		select {
		case <-w.reqs:
		default:
			return
		}
	}
}

func (w *SnippetWorker) handle(req snippetRequest) (Snippet, bool) {
	if w.noAudio.Contains(req.path) {
		w.skipped.Add(1)
		return Snippet{}, false
	}
	start := max(req.time, 0)
	key := snippetKey{path: req.path, sampleRate: req.sampleRate, centis: int64(math.Round(start * snippetCacheScale))}
	if samples, ok := w.cache.Get(key); ok {
		w.cacheHits.Add(1)
		return Snippet{Path: req.path, Time: start, Samples: samples}, true
	}

	dec, ok := w.ensureDecoder(req.path, req.sampleRate)
	if !ok {
		return Snippet{}, false
	}
	samples, err := dec.DecodeRangeMonoF32(start, SnippetDuration)
	if err != nil {
		slog.Debug("workers: snippet decode failed", "path", req.path, "time", start, "error", err)
		if errors.Is(err, media.ErrNoAudioStream) {
			w.noAudio.Add(req.path)
			w.closeDecoder()
		}
		return Snippet{}, false
	}
	w.decoded.Add(1)
	w.cache.Add(key, samples)
	return Snippet{Path: req.path, Time: start, Samples: samples}, true
}

func (w *SnippetWorker) ensureDecoder(path string, sampleRate int) (media.AudioDecoder, bool) {
	if w.decoder != nil && w.decoderPath == path && w.decoderRate == sampleRate {
		return w.decoder, true
	}
	w.closeDecoder()

	dec, err := w.open(path, sampleRate)
	if err != nil {
		if !w.hasAudio(path) {
			w.noAudio.Add(path)
			slog.Info("workers: no audio stream, previews disabled", "path", path)
		} else {
			slog.Debug("workers: audio decoder open failed", "path", path, "error", err)
		}
		return nil, false
	}
	w.decoder, w.decoderPath, w.decoderRate = dec, path, sampleRate
	return dec, true
}

func (w *SnippetWorker) closeDecoder() {
	if w.decoder == nil {
		return
	}
	if err := w.decoder.Close(); err != nil {
		slog.Debug("workers: audio decoder close failed", "path", w.decoderPath, "error", err)
	}
	w.decoder, w.decoderPath = nil, ""
}
