// Package watcher provides drop-folder watching with automatic
// debouncing: files placed in a local directory are detected and
// synthesised into the same object events the upload webhook produces.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: Polling for environments where fsnotify fails (network mounts, Docker volumes)
//
// Events are debounced to coalesce rapid changes from editors and slow
// copies, and hidden or in-progress temp files are filtered out.
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go w.Start(ctx, cfg.EffectiveWatchDir())
//
//	for batch := range w.Events() {
//	    for _, ev := range watcher.ObjectEvents(w.RootPath(), batch) {
//	        // enqueue like a webhook event
//	    }
//	}
package watcher
