// Package workers runs the on-demand decode jobs that sit beside the
// playback pipelines: single frames for scrubbing and bridging, and short
// audio snippets for hover and scrub previews.
package workers

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/e7canasta/wizard-playback/internal/media"
	"github.com/e7canasta/wizard-playback/internal/timeline"
)

const (
	decoderCacheSize  = 4
	frameCacheSize    = 64
	decodeQueueSize   = 64
	decodeResultQueue = 16

	// sequentialWindow is how far ahead of the last decoded frame a request
	// may be and still be served by decoding forward instead of seeking.
	sequentialWindow = 0.2
	// frameTolerance accepts a sequential frame this close before the target.
	frameTolerance = 0.01
)

// DecodeRequest asks for one frame of a source.
type DecodeRequest struct {
	ClipID          timeline.ClipID
	Path            string
	Time            float64 // source seconds
	Width           int
	Height          int
	MaxDecodeFrames int
}

// DecodeResult is a decoded frame. Frame is shared with the frame cache and
// must be treated as read-only.
type DecodeResult struct {
	ClipID timeline.ClipID
	Time   float64
	Frame  *media.DecodedFrame
}

// DecodeStats counts worker activity.
type DecodeStats struct {
	Requests     uint64 `json:"requests"`
	Coalesced    uint64 `json:"coalesced"`
	Decoded      uint64 `json:"decoded"`
	CacheHits    uint64 `json:"cache_hits"`
	Deduplicated uint64 `json:"deduplicated"`
	OpenFailures uint64 `json:"open_failures"`
	Dropped      uint64 `json:"dropped"`
}

type decoderKey struct {
	path          string
	width, height int
}

type frameKey struct {
	clip   timeline.ClipID
	bucket int64
}

// DecodeWorker serves DecodeRequests on one goroutine.
//
// Requests are coalesced: only the most recent queued request is decoded.
// Open decoders are kept in an LRU keyed by path and size; evicted decoders
// are closed. Decoded frames are kept in a second LRU keyed by clip and
// time bucket, which also serves bridge frames to the engine.
type DecodeWorker struct {
	open       media.VideoOpener
	bucketRate float64

	reqs    chan DecodeRequest
	results chan DecodeResult

	decoders *lru.Cache[decoderKey, media.VideoDecoder]
	frames   *lru.Cache[frameKey, *media.DecodedFrame]

	lastEmitted    frameKey
	hasLastEmitted bool

	requests     atomic.Uint64
	coalesced    atomic.Uint64
	decoded      atomic.Uint64
	cacheHits    atomic.Uint64
	deduplicated atomic.Uint64
	openFailures atomic.Uint64
	dropped      atomic.Uint64

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDecodeWorker starts a worker. open defaults to media.OpenFrameDecoder;
// bucketRate (per second) quantises request times for deduplication.
func NewDecodeWorker(open media.VideoOpener, bucketRate float64) *DecodeWorker {
	if open == nil {
		open = media.OpenFrameDecoder
	}
	if bucketRate <= 0 {
		bucketRate = 60
	}

	decoders, _ := lru.NewWithEvict[decoderKey, media.VideoDecoder](decoderCacheSize,
		func(k decoderKey, d media.VideoDecoder) {
			if err := d.Close(); err != nil {
				slog.Debug("workers: decoder close failed", "path", k.path, "error", err)
			}
		})
	frames, _ := lru.New[frameKey, *media.DecodedFrame](frameCacheSize)

	w := &DecodeWorker{
		open:       open,
		bucketRate: bucketRate,
		reqs:       make(chan DecodeRequest, decodeQueueSize),
		results:    make(chan DecodeResult, decodeResultQueue),
		decoders:   decoders,
		frames:     frames,
		stop:       make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *DecodeWorker) bucket(t float64) int64 {
	return int64(math.Round(t * w.bucketRate))
}

// Request queues req without blocking. When the queue is full the oldest
// request is discarded; it would have been coalesced away anyway.
func (w *DecodeWorker) Request(req DecodeRequest) {
	w.requests.Add(1)
	for {
		select {
		case w.reqs <- req:
			return
		default:
		}
		select {
		case <-w.reqs:
			w.coalesced.Add(1)
		default:
		}
	}
}

// TryRecv returns the next result without blocking.
func (w *DecodeWorker) TryRecv() (DecodeResult, bool) {
	select {
	case r := <-w.results:
		return r, true
	default:
		return DecodeResult{}, false
	}
}

// CachedFrame returns a previously decoded frame of clip at sourceTime, if
// the frame cache holds its bucket.
func (w *DecodeWorker) CachedFrame(clip timeline.ClipID, sourceTime float64) (*media.DecodedFrame, bool) {
	return w.frames.Peek(frameKey{clip: clip, bucket: w.bucket(sourceTime)})
}

// Stats returns a snapshot of the counters.
func (w *DecodeWorker) Stats() DecodeStats {
	return DecodeStats{
		Requests:     w.requests.Load(),
		Coalesced:    w.coalesced.Load(),
		Decoded:      w.decoded.Load(),
		CacheHits:    w.cacheHits.Load(),
		Deduplicated: w.deduplicated.Load(),
		OpenFailures: w.openFailures.Load(),
		Dropped:      w.dropped.Load(),
	}
}

// Close stops the worker and closes every cached decoder.
func (w *DecodeWorker) Close() error {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.wg.Wait()
		w.decoders.Purge()
	})
	return nil
}

func (w *DecodeWorker) run() {
	defer w.wg.Done()
	for {
		var req DecodeRequest
		select {
		case <-w.stop:
			return
		case req = <-w.reqs:
		}

	coalesce:
		for {
			select {
			case next := <-w.reqs:
				req = next
				w.coalesced.Add(1)
			default:
				break coalesce
			}
		}

		w.handle(req)
	}
}

func (w *DecodeWorker) decoderFor(req DecodeRequest) (media.VideoDecoder, bool) {
	key := decoderKey{path: req.Path, width: req.Width, height: req.Height}
	if dec, ok := w.decoders.Get(key); ok {
		return dec, true
	}
	dec, err := w.open(req.Path, req.Width, req.Height)
	if err != nil {
		w.openFailures.Add(1)
		slog.Debug("workers: decoder open failed", "path", req.Path, "error", err)
		return nil, false
	}
	w.decoders.Add(key, dec)
	return dec, true
}

func (w *DecodeWorker) handle(req DecodeRequest) {
	key := frameKey{clip: req.ClipID, bucket: w.bucket(req.Time)}
	if w.hasLastEmitted && w.lastEmitted == key {
		w.deduplicated.Add(1)
		return
	}

	if f, ok := w.frames.Get(key); ok {
		w.cacheHits.Add(1)
		w.emit(key, DecodeResult{ClipID: req.ClipID, Time: req.Time, Frame: f})
		return
	}

	dec, ok := w.decoderFor(req)
	if !ok {
		return
	}
	f, ok := w.decode(dec, req)
	if !ok {
		return
	}
	w.decoded.Add(1)
	w.frames.Add(key, f)
	w.emit(key, DecodeResult{ClipID: req.ClipID, Time: req.Time, Frame: f})
}

// decode steps forward when the target is just ahead of the last decoded
// frame, and seeks otherwise.
func (w *DecodeWorker) decode(dec media.VideoDecoder, req DecodeRequest) (*media.DecodedFrame, bool) {
	last, hasLast := dec.LastDecodeTime()
	diff := req.Time - last
	if !hasLast || diff <= 0 || diff >= sequentialWindow {
		return dec.SeekAndDecode(req.Time)
	}

	f, ok := dec.DecodeNextFrame()
	for i := 1; ok && i < max(req.MaxDecodeFrames, 1) && f.PTS+frameTolerance < req.Time; i++ {
		next, nextOK := dec.DecodeNextFrame()
		if !nextOK {
			break
		}
		f = next
	}
	return f, ok
}

func (w *DecodeWorker) emit(key frameKey, r DecodeResult) {
	w.lastEmitted, w.hasLastEmitted = key, true
	for {
		select {
		case w.results <- r:
			return
		default:
		}
		// The engine drains every tick; a full queue only holds stale frames.
		select {
		case <-w.results:
			w.dropped.Add(1)
		default:
		}
	}
}
