package mind

import (
	"context"
	"fmt"
	"time"

	"github.com/keshon/companion/internal/chat"
	"github.com/rs/zerolog"
)

// StateStore persists gauge records. Load reports false when nothing was stored.
type StateStore interface {
	LoadState(ctx context.Context, kind string, key chat.Key, dst any) (bool, error)
	SaveState(ctx context.Context, kind string, key chat.Key, v any) error
}

// persister is embedded by every gauge.
type persister struct {
	kind  string
	key   chat.Key
	store StateStore
	log   zerolog.Logger
}

// load fills dst from storage. Failures are logged and leave dst at its defaults.
func (p persister) load(ctx context.Context, dst any) bool {
	if p.store == nil {
		return false
	}
	ok, err := p.store.LoadState(ctx, p.kind, p.key, dst)
	if err != nil {
		p.log.Error().Err(err).Msg("load state failed, using defaults")
		return false
	}
	if !ok {
		p.log.Debug().Msg("no stored state, using defaults")
	}
	return ok
}

func (p persister) save(ctx context.Context, v any) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveState(ctx, p.kind, p.key, v); err != nil {
		p.log.Error().Err(err).Msg("persist state failed")
	}
}

// every calls fn each interval until ctx is done. A panicking fn is logged and the loop
// continues. A non-positive interval only waits for ctx.
func every(ctx context.Context, interval time.Duration, log zerolog.Logger, name string, fn func()) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := safely(fn); err != nil {
				log.Error().Err(err).Str("loop", name).Msg("loop iteration failed")
			}
		}
	}
}

func safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}

// sameKey filters key-scoped events.
func sameKey(k chat.Key, ev chat.Keyed) bool {
	return ev.EventKey() == k
}
