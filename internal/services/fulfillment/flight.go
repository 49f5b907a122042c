package fulfillment

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// labelWorkTimeout bounds one shared label request: carrier retries plus the store writes.
const labelWorkTimeout = 2 * time.Minute

// flights runs one label request per shipment on behalf of every caller waiting for it.
// The shared work is cancelled only once all of its callers have gone.
type flights struct {
	group singleflight.Group

	mu      sync.Mutex
	running map[string]*flight
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (f *flights) do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	fl := f.join(ctx, key)

	var once sync.Once
	leave := func() { once.Do(func() { f.leave(key, fl) }) }
	stop := context.AfterFunc(ctx, leave)
	defer func() {
		stop()
		leave()
	}()

	v, err, _ := f.group.Do(key, func() (any, error) {
		return fn(fl.ctx)
	})
	return v, err
}

func (f *flights) join(ctx context.Context, key string) *flight {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running == nil {
		f.running = make(map[string]*flight)
	}
	fl, ok := f.running[key]
	if !ok {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), labelWorkTimeout)
		fl = &flight{ctx: wctx, cancel: cancel}
		f.running[key] = fl
	}
	fl.waiters++
	return fl
}

func (f *flights) leave(key string, fl *flight) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if f.running[key] == fl {
		delete(f.running, key)
		// new callers must not attach to work that is being cancelled
		f.group.Forget(key)
	}
}
