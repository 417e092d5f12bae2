package source

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultSettleTime is how long a new file must go without writes before it
// is considered complete.
const DefaultSettleTime = 2 * time.Second

// Watcher reports video files that appear in a directory.
type Watcher struct {
	Dir string
	// Exts are the accepted lower-case extensions, including the dot.
	Exts   []string
	Settle time.Duration

	w *fsnotify.Watcher
}

func NewWatcher(dir string, exts []string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{
		Dir:    dir,
		Exts:   exts,
		Settle: DefaultSettleTime,
		w:      w,
	}, nil
}

func (w *Watcher) accept(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range w.Exts {
		if e == ext {
			return true
		}
	}
	return false
}

// Files emits the path of each accepted file once it has settled. The channel
// is closed when ctx is done or the underlying watcher fails.
func (w *Watcher) Files(ctx context.Context) <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		defer w.w.Close()

		pending := make(map[string]time.Time)
		tick := time.NewTicker(w.Settle / 4)
		defer tick.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !w.accept(ev.Name) {
					continue
				}
				pending[ev.Name] = time.Now()
			case err, ok := <-w.w.Errors:
				if !ok {
					return
				}
				log.Errorf("Error watching %v: %v", w.Dir, err)
			case now := <-tick.C:
				var ready []string
				for name, last := range pending {
					if now.Sub(last) >= w.Settle {
						ready = append(ready, name)
					}
				}
				sort.Strings(ready)
				for _, name := range ready {
					delete(pending, name)
					select {
					case c <- name:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return c
}

// WatchDir is shorthand for NewWatcher followed by Files.
func WatchDir(ctx context.Context, dir string, exts []string) (<-chan string, error) {
	w, err := NewWatcher(dir, exts)
	if err != nil {
		return nil, err
	}
	log.Infof("Watching %v for %v files", dir, strings.Join(exts, ", "))
	return w.Files(ctx), nil
}
