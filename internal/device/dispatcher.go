package device

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/internal/bluez"
	"github.com/srg/bluezctl/internal/groutine"
)

// ErrNotSubscribed is returned by Unsubscribe for a characteristic with no
// active subscription.
var ErrNotSubscribed = errors.New("not subscribed")

// NotifyFunc receives a characteristic value. The slice is owned by the callee.
type NotifyFunc func(value []byte)

type subscription struct {
	uuid string
	path string

	mu      sync.Mutex // held while onValue runs
	onValue NotifyFunc
	active  atomic.Bool
}

// Dispatcher routes Value changes of subscribed characteristics to their
// callbacks and performs read and write requests.
//
// One dispatch goroutine consumes the bus event channel, so deliveries for a
// characteristic keep the order bluetoothd emitted them in. Callbacks run on
// that goroutine and may call Subscribe and Unsubscribe.
type Dispatcher struct {
	bus     bluez.Bus
	catalog *Catalog
	logger  *logrus.Logger

	subs *hashmap.Map[string, *subscription]

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopSig func()
	done    <-chan struct{}
	loopGID atomic.Uint64
}

// NewDispatcher creates a Dispatcher. Call Start before expecting deliveries.
func NewDispatcher(bus bluez.Bus, catalog *Catalog, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		bus:     bus,
		catalog: catalog,
		logger:  logger,
		subs:    hashmap.New[string, *subscription](),
	}
}

// Start launches the dispatch goroutine. It is a no-op when already running.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return
	}

	events, stopSig := d.bus.Signals()
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopSig = stopSig
	d.done = groutine.Go(loopCtx, "notify-dispatch", func(ctx context.Context) {
		d.loopGID.Store(groutine.GetGID())
		defer d.loopGID.Store(0)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				d.deliver(ev)
			}
		}
	})
	d.logger.Debug("Notification dispatcher started")
}

// Close stops the dispatch goroutine and waits for it to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	cancel, stopSig, done := d.cancel, d.stopSig, d.done
	d.cancel, d.stopSig, d.done = nil, nil, nil
	d.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	stopSig()
	if !d.onLoop() {
		<-done
	}
	d.logger.Debug("Notification dispatcher stopped")
}

// Subscribe resolves id and routes its Value changes to onValue. The
// callback is registered before notifications are enabled so nothing emitted
// in between is lost; it is rolled back if enabling fails. Subscribing again
// replaces the callback without re-enabling notifications.
func (d *Dispatcher) Subscribe(ctx context.Context, id string, onValue NotifyFunc) (Characteristic, error) {
	ch, err := d.catalog.Resolve(id)
	if err != nil {
		return Characteristic{}, err
	}

	if existing, ok := d.subs.Get(ch.Path); ok && existing.active.Load() {
		d.locked(existing, func() { existing.onValue = onValue })
		d.logger.WithField("path", ch.Path).Debug("Subscription callback replaced")
		return ch, nil
	}

	sub := &subscription{uuid: ch.UUID, path: ch.Path, onValue: onValue}
	sub.active.Store(true)
	d.subs.Set(ch.Path, sub)

	if err := bluez.NewCharacteristicObject(d.bus, ch.Path).StartNotify(ctx); err != nil {
		sub.active.Store(false)
		d.subs.Del(ch.Path)
		return Characteristic{}, err
	}

	d.logger.WithFields(logrus.Fields{
		"uuid": ch.UUID,
		"path": ch.Path,
	}).Info("Subscribed to notifications")
	return ch, nil
}

// Unsubscribe stops deliveries for id. No callback runs once it returns,
// unless it is called from inside that very callback. The remote stop
// request is issued after local deactivation and its error is returned.
func (d *Dispatcher) Unsubscribe(ctx context.Context, id string) error {
	ch, err := d.catalog.Resolve(id)
	if err != nil {
		return err
	}

	sub, ok := d.subs.Get(ch.Path)
	if !ok {
		return ErrNotSubscribed
	}
	d.deactivate(sub)

	if err := bluez.NewCharacteristicObject(d.bus, ch.Path).StopNotify(ctx); err != nil {
		d.logger.WithError(err).WithField("path", ch.Path).Warn("Failed to stop notifications")
		return err
	}

	d.logger.WithField("path", ch.Path).Info("Unsubscribed from notifications")
	return nil
}

// Reset drops every subscription locally. Used on session teardown, when the
// link is gone and no stop requests are sent.
func (d *Dispatcher) Reset() {
	var subs []*subscription
	d.subs.Range(func(_ string, sub *subscription) bool {
		subs = append(subs, sub)
		return true
	})
	for _, sub := range subs {
		d.deactivate(sub)
	}
	if len(subs) > 0 {
		d.logger.WithField("subscriptions", len(subs)).Debug("Subscriptions reset")
	}
}

// Subscriptions returns the paths of active subscriptions, sorted.
func (d *Dispatcher) Subscriptions() []string {
	var paths []string
	d.subs.Range(func(path string, sub *subscription) bool {
		if sub.active.Load() {
			paths = append(paths, path)
		}
		return true
	})
	sort.Strings(paths)
	return paths
}

// Read performs a single ReadValue on id.
func (d *Dispatcher) Read(ctx context.Context, id string) ([]byte, error) {
	ch, err := d.catalog.Resolve(id)
	if err != nil {
		return nil, err
	}
	return bluez.NewCharacteristicObject(d.bus, ch.Path).ReadValue(ctx)
}

// Write performs a single WriteValue on id. An empty mode means an
// acknowledged write request.
func (d *Dispatcher) Write(ctx context.Context, id string, data []byte, mode bluez.WriteType) error {
	ch, err := d.catalog.Resolve(id)
	if err != nil {
		return err
	}
	if mode == "" {
		mode = bluez.WriteRequest
	}
	d.logger.WithFields(logrus.Fields{
		"path":  ch.Path,
		"bytes": len(data),
		"mode":  mode,
	}).Debug("Writing characteristic")
	return bluez.NewCharacteristicObject(d.bus, ch.Path).WriteValue(ctx, data, mode)
}

func (d *Dispatcher) deliver(ev bluez.PropertiesChanged) {
	if ev.Interface != bluez.GattCharacteristicInterface {
		return
	}
	value, ok := ev.Changed["Value"].AsBytes()
	if !ok {
		return
	}
	sub, ok := d.subs.Get(ev.Path)
	if !ok {
		return
	}
	if !d.catalog.Contains(ev.Path) {
		d.logger.WithField("path", ev.Path).Debug("Dropped notification for characteristic no longer in catalog")
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"uuid":  sub.uuid,
				"path":  ev.Path,
				"panic": r,
			}).Error("Notification callback panicked")
		}
	}()
	sub.onValue(append([]byte(nil), value...))
}

// deactivate removes sub and waits out an in-flight delivery.
func (d *Dispatcher) deactivate(sub *subscription) {
	sub.active.Store(false)
	if cur, ok := d.subs.Get(sub.path); ok && cur == sub {
		d.subs.Del(sub.path)
	}
	d.locked(sub, func() {})
}

// locked runs fn under sub's delivery lock, which the dispatch goroutine
// already holds while it runs a callback.
func (d *Dispatcher) locked(sub *subscription, fn func()) {
	if d.onLoop() {
		fn()
		return
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	fn()
}

func (d *Dispatcher) onLoop() bool {
	gid := d.loopGID.Load()
	return gid != 0 && gid == groutine.GetGID()
}
