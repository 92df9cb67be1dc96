package registry

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"mlxd/internal/common/fsutil"
)

// Watch rescans dir whenever files are created or renamed in it, until ctx is
// cancelled. Events are debounced so a burst of writes (a large download
// finishing, say) triggers one scan.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(base); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		const debounce = 2 * time.Second
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
					fire = timer.C
				} else {
					timer.Reset(debounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.log.Warn().Err(err).Msg("model dir watcher error")
			case <-fire:
				timer = nil
				fire = nil
				if _, err := r.ScanDir(base); err != nil {
					r.log.Warn().Err(err).Msg("rescan after fs event failed")
				}
			}
		}
	}()
	r.log.Info().Str("dir", base).Msg("watching models directory")
	return nil
}
