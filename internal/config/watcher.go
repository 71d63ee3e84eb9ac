package config

import (
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherCallback receives the new, validated config on every successful
// reload. It runs synchronously on the watcher goroutine — keep it fast.
type WatcherCallback func(newCfg *Config)

// Watcher tracks the edge config file on disk so route sets, reserved
// subdomains, and token-cache settings can change without restarting the
// edge. Two detection paths run side by side: fsnotify for low-latency
// events on real filesystems, and periodic content fingerprinting for
// Kubernetes ConfigMap volumes, whose atomic symlink swaps may never reach
// inotify.
type Watcher struct {
	path         string
	dir          string // parent directory, where ConfigMap symlink swaps happen
	callback     WatcherCallback
	logger       *slog.Logger
	debounce     time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// NewWatcher builds a config file watcher. Nothing is watched until Start.
func NewWatcher(path string, callback WatcherCallback, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:         path,
		dir:          filepath.Dir(path),
		callback:     callback,
		logger:       logger,
		debounce:     300 * time.Millisecond,
		pollInterval: 2 * time.Second,
	}
}

// fileFingerprint captures the on-disk identity of a set of files plus the
// Kubernetes "..data" symlink in their directory. Comparing fingerprints
// catches both plain writes and projected-volume swaps.
type fileFingerprint struct {
	dataLink string
	files    []string
	lastSum  string
	lastLink string
}

func newFingerprint(dir string, files ...string) *fileFingerprint {
	return &fileFingerprint{dataLink: filepath.Join(dir, "..data"), files: files}
}

func (fp *fileFingerprint) sum() string {
	h := sha256.New()
	for _, f := range fp.files {
		_, _ = io.WriteString(h, hashFile(f))
	}
	return string(h.Sum(nil))
}

// changed reports whether any tracked file differs from the last capture.
// The symlink target is checked first since readlink is far cheaper than
// hashing file contents.
func (fp *fileFingerprint) changed() bool {
	if target := readlink(fp.dataLink); target != "" && target != fp.lastLink {
		fp.lastLink = target
		return true
	}
	return fp.sum() != fp.lastSum
}

func (fp *fileFingerprint) capture() {
	fp.lastSum = fp.sum()
	fp.lastLink = readlink(fp.dataLink)
}

// Start watches the config file until the context is canceled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	_ = watcher.Add(w.path)

	w.logger.Info("config watcher started", "path", w.path, "dir", w.dir)

	fp := newFingerprint(w.dir, w.path)
	fp.capture()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	pollTicker := time.NewTicker(w.pollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			debounceTimer, debounceCh = w.handleFSEvent(event, watcher, debounceTimer)

		case <-debounceCh:
			debounceCh = nil
			w.reload()
			fp.capture()

		case <-pollTicker.C:
			if fp.changed() {
				fp.capture()
				w.logger.Debug("config change detected via polling", "path", w.path)
				w.reload()
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", "error", watchErr)
		}
	}
}

// handleFSEvent folds one fsnotify event into the debounce state. Only
// write, create, and rename events count; editors doing atomic saves emit
// bursts of these, hence the debounce window.
func (w *Watcher) handleFSEvent(
	event fsnotify.Event,
	watcher *fsnotify.Watcher,
	timer *time.Timer,
) (*time.Timer, <-chan time.Time) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		var ch <-chan time.Time
		if timer != nil {
			ch = timer.C
		}
		return timer, ch
	}

	if timer != nil {
		timer.Stop()
	}
	timer = time.NewTimer(w.debounce)

	// An atomic save (rename temp over target) replaces the inode, which
	// silently drops the file from the watch; re-add it.
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
		_ = watcher.Add(w.path)
	}

	return timer, timer.C
}

// hashFile returns the SHA-256 digest of the file contents, following
// symlinks, or "" when the file cannot be read.
func hashFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return string(h.Sum(nil))
}

// readlink resolves a symlink target, returning "" on any error.
func readlink(path string) string {
	target, err := os.Readlink(path)
	if err != nil {
		return ""
	}
	return target
}

// reload parses and validates the file, then hands the result to the
// callback. A file that fails validation leaves the running config alone.
func (w *Watcher) reload() {
	newCfg, err := LoadFromPath(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping old config", "error", err)
		return
	}

	w.logger.Info("config reloaded", "path", w.path)
	w.callback(newCfg)
}

// Stop terminates the watcher goroutine.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.cancel != nil {
		w.cancel()
	}
}

// CertCallback is invoked with the cert and key paths when either file
// changes on disk.
type CertCallback func(certFile, keyFile string)

// CertWatcher polls the TLS cert and key files for changes. Polling only:
// certs normally arrive through a Secret volume, and projected-volume
// symlink swaps do not produce reliable inotify events.
type CertWatcher struct {
	certFile     string
	keyFile      string
	callback     CertCallback
	logger       *slog.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// NewCertWatcher builds a certificate watcher. Polling starts with Start.
func NewCertWatcher(certFile, keyFile string, callback CertCallback, logger *slog.Logger) *CertWatcher {
	return &CertWatcher{
		certFile:     certFile,
		keyFile:      keyFile,
		callback:     callback,
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
}

// Start polls the certificate files until the context is canceled or Stop
// is called.
func (cw *CertWatcher) Start(ctx context.Context) error {
	ctx, cw.cancel = context.WithCancel(ctx)

	cw.logger.Info("TLS cert watcher started", "cert", cw.certFile, "key", cw.keyFile)

	fp := newFingerprint(filepath.Dir(cw.certFile), cw.certFile, cw.keyFile)
	fp.capture()

	ticker := time.NewTicker(cw.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("TLS cert watcher stopped")
			return nil
		case <-ticker.C:
			if fp.changed() {
				fp.capture()
				cw.logger.Info("TLS certificate change detected", "cert", cw.certFile)
				cw.callback(cw.certFile, cw.keyFile)
			}
		}
	}
}

// Stop terminates the cert watcher goroutine.
func (cw *CertWatcher) Stop() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.stopped {
		return
	}
	cw.stopped = true
	if cw.cancel != nil {
		cw.cancel()
	}
}
