package objstore

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Stats struct {
	QueueDepth      int
	QueueCapacity   int
	EnqueuedTotal   uint64
	DroppedTotal    uint64
	UploadedTotal   uint64
	FailedTotal     uint64
	LastSuccessUnix int64
	LastErrorUnix   int64
}

type MirrorOptions struct {
	Prefix      string
	Workers     int           // 1 when zero
	Queue       int           // 256 when zero
	EnqueueWait time.Duration // 25ms when zero
	Attempts    int           // 4 when zero
	Backoff     time.Duration // base retry delay, 200ms when zero
}

// Mirror uploads files below dataDir in the background, keyed by their
// path relative to dataDir. Enqueue never blocks longer than EnqueueWait.
type Mirror struct {
	up      Uploader
	dataDir string
	opts    MirrorOptions
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan string
	wg     sync.WaitGroup

	enqueued, dropped, uploaded, failed atomic.Uint64
	lastOK, lastErr                     atomic.Int64
}

func NewMirror(up Uploader, dataDir string, opts MirrorOptions, logger *zap.Logger) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mirror{
		up:      up,
		dataDir: dataDir,
		opts:    opts,
		log:     logger.Named("mirror"),
		jobs:    make(chan string, opts.Queue),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules one upload. Calls after Close are ignored.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	t := time.NewTimer(m.opts.EnqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		m.dropped.Add(1)
		m.log.Warn("upload dropped; queue saturated", zap.String("path", localPath))
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(m.jobs),
		QueueCapacity:   cap(m.jobs),
		EnqueuedTotal:   m.enqueued.Load(),
		DroppedTotal:    m.dropped.Load(),
		UploadedTotal:   m.uploaded.Load(),
		FailedTotal:     m.failed.Load(),
		LastSuccessUnix: m.lastOK.Load(),
		LastErrorUnix:   m.lastErr.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.Key(localPath)
	if err != nil {
		m.failed.Add(1)
		m.log.Warn("upload skipped", zap.String("path", localPath), zap.Error(err))
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.lastOK.Store(time.Now().Unix())
			m.log.Debug("uploaded", zap.String("key", key))
			return
		}
		if attempt >= m.opts.Attempts {
			break
		}
		time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
	}
	m.failed.Add(1)
	m.lastErr.Store(time.Now().Unix())
	m.log.Warn("upload failed", zap.String("key", key), zap.String("path", localPath), zap.Error(err))
}

// Key maps a file below the data directory to its object key.
func (m *Mirror) Key(localPath string) (string, error) {
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.opts.Prefix != "" {
		rel = path.Join(m.opts.Prefix, rel)
	}
	return rel, nil
}
