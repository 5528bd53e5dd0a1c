// Package bridge drives one connected peripheral: it decodes notifications into the
// local property store, encodes and sends writes, and publishes every change.
//
// Decode, encode and store mutation for a Device all run on one serial queue
// goroutine. Transport I/O runs off the queue and its completion is handed back to
// it, so callbacks passed to Write are always invoked from the queue.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/devclass"
	"github.com/srg/lbridge/internal/groutine"
	"github.com/srg/lbridge/internal/notify"
	"github.com/srg/lbridge/internal/property"
	"github.com/srg/lbridge/internal/store"
	"github.com/srg/lbridge/internal/transport"
)

// DefaultQueueSize is the default depth of a Device's serial queue.
const DefaultQueueSize = 64

// Options configures a Device.
type Options struct {
	// DeviceID identifies the device towards listeners; defaults to the hardware id.
	DeviceID   string
	DSN        string
	Identity   devclass.Identity
	Class      *devclass.Class
	Peripheral transport.Peripheral
	Logger     *logrus.Logger
	// Now is the clock used for change timestamps.
	Now       func() time.Time
	QueueSize int
}

// WriteRequest asks for one property to be set on the peripheral.
type WriteRequest struct {
	Name   property.Name
	Value  codec.Value
	Source property.Source
}

// WriteCallback receives the outcome of a write. It runs on the device queue and must
// not block.
type WriteCallback func(err error)

type pendingWrite struct {
	req   WriteRequest
	frame []byte
	done  WriteCallback
	// cause is the spurious write error being confirmed by a read, if any.
	cause error
}

// Device is the bridge between one peripheral and its property store.
type Device struct {
	id         string
	identity   devclass.Identity
	class      *devclass.Class
	peripheral transport.Peripheral
	store      *store.Store
	notifier   *notify.Notifier
	logger     *logrus.Logger
	now        func() time.Time

	tasks chan func()
	quit  chan struct{}
	// held for reading while enqueueing, for writing while closing quit
	mu   sync.RWMutex
	wg   sync.WaitGroup
	ctx  context.Context
	stop context.CancelFunc

	closeOnce sync.Once

	// queue-owned
	pending map[uint64]*pendingWrite
	nextID  uint64
	closed  bool
}

// New creates a Device and starts its queue.
func New(opts Options) (*Device, error) {
	if opts.Class == nil {
		return nil, fmt.Errorf("device class is required")
	}
	if opts.Peripheral == nil {
		return nil, fmt.Errorf("peripheral is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	id := opts.DeviceID
	if id == "" {
		id = opts.Identity.HardwareID
	}

	ctx, stop := context.WithCancel(context.Background())
	d := &Device{
		id:         id,
		identity:   opts.Identity,
		class:      opts.Class,
		peripheral: opts.Peripheral,
		store:      store.New(opts.Class, logger),
		notifier:   notify.New(notify.Scope{DeviceID: id, DSN: opts.DSN, Logger: logger}),
		logger:     logger,
		now:        now,
		tasks:      make(chan func(), size),
		quit:       make(chan struct{}),
		ctx:        ctx,
		stop:       stop,
		pending:    make(map[uint64]*pendingWrite),
	}
	d.wg.Add(1)
	groutine.Go(ctx, "bridge-queue", func(context.Context) {
		defer d.wg.Done()
		d.loop()
	})
	return d, nil
}

func (d *Device) loop() {
	for {
		select {
		case fn := <-d.tasks:
			fn()
		case <-d.quit:
			return
		}
	}
}

// submit enqueues fn. It fails only once the device is closed.
func (d *Device) submit(fn func()) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	select {
	case <-d.quit:
		return ErrClosed
	default:
	}
	select {
	case d.tasks <- fn:
		return nil
	case <-d.quit:
		return ErrClosed
	}
}

// call runs fn on the queue and waits for it.
func (d *Device) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := d.submit(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-d.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID returns the device id used towards listeners.
func (d *Device) ID() string { return d.id }

// Identity returns the resolved identity of the peripheral.
func (d *Device) Identity() devclass.Identity { return d.identity }

// Class returns the device class.
func (d *Device) Class() *devclass.Class { return d.class }

// Subscribe registers a change listener.
func (d *Device) Subscribe(l notify.Listener) (unsubscribe func()) {
	return d.notifier.Subscribe(l)
}

func (d *Device) log() *logrus.Entry {
	return d.logger.WithFields(logrus.Fields{
		"device_id": d.id,
		"model":     d.class.ModelKey,
		"address":   d.identity.HardwareID,
	})
}

// HandleNotification decodes a frame received on a sensor characteristic. It is
// shaped as a transport.NotificationHandler.
func (d *Device) HandleNotification(charUUID string, data []byte) {
	frame := append([]byte(nil), data...)
	if err := d.submit(func() {
		idx, ok := d.class.SubdeviceFor(charUUID)
		if !ok {
			d.log().WithField("characteristic", charUUID).Warn("Notification from a characteristic the device class does not read")
			return
		}
		_, _, _ = d.applyFrame(idx, frame, property.Local)
	}); err != nil {
		d.log().WithError(err).Debug("Dropping notification")
	}
}

// applyFrame decodes a frame for one sub-device, commits it and publishes the
// changes. Must run on the queue.
func (d *Device) applyFrame(idx int, frame []byte, source property.Source) (*codec.Result, []property.Change, error) {
	prev, err := d.store.Snapshot(idx)
	if err != nil {
		d.log().WithError(err).Warn("Frame for unknown sub-device")
		return nil, nil, err
	}

	res, err := d.class.Table.Decode(frame, prev)
	if err != nil {
		entry := d.log().WithField("subdevice", idx)
		var fe *codec.FrameError
		if errors.As(err, &fe) {
			entry = entry.WithFields(logrus.Fields{"expected": fe.Expected, "actual": fe.Actual})
		}
		entry.WithError(err).Warn("Discarding malformed frame")
		return nil, nil, err
	}
	for _, fe := range res.Skipped {
		d.log().WithFields(logrus.Fields{
			"subdevice": idx,
			"field":     fe.Field,
			"raw":       fe.Raw,
			"reason":    fe.Msg,
		}).Warn("Skipping invalid field value")
	}

	changes, err := d.store.Apply(idx, res, d.now(), source)
	if err != nil {
		d.log().WithError(err).Error("Failed to apply decoded frame")
		return nil, nil, err
	}
	d.notifier.Publish(changes)
	return res, changes, nil
}

// Write encodes req and sends it to the peripheral. done fires exactly once on the
// queue: with a validation error before any I/O, with the transport error, with
// ErrDisconnected if the link drops first, or with nil once the write is
// acknowledged. The store only takes the new value after acknowledgement.
func (d *Device) Write(req WriteRequest, done WriteCallback) {
	if done == nil {
		done = func(error) {}
	}
	if err := d.submit(func() { d.startWrite(req, done) }); err != nil {
		done(err)
	}
}

// WriteSync is Write for callers outside the queue. Cancelling ctx stops the wait,
// not the write.
func (d *Device) WriteSync(ctx context.Context, req WriteRequest) error {
	result := make(chan error, 1)
	d.Write(req, func(err error) { result <- err })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) startWrite(req WriteRequest, done WriteCallback) {
	if d.closed {
		done(ErrClosed)
		return
	}
	frame, err := d.encode(req)
	if err != nil {
		done(err)
		return
	}
	if d.store.State() != store.Subscribed {
		done(fmt.Errorf("write %s: %w", req.Name, transport.ErrNotConnected))
		return
	}

	d.nextID++
	id := d.nextID
	d.pending[id] = &pendingWrite{req: req, frame: frame, done: done}

	d.log().WithFields(logrus.Fields{
		"property": req.Name.String(),
		"value":    req.Value.String(),
		"frame":    fmt.Sprintf("% X", frame),
	}).Debug("Writing property")

	control := d.class.ControlChar
	groutine.Go(d.ctx, "bridge-write", func(ctx context.Context) {
		werr := d.peripheral.WriteCharacteristic(ctx, control, frame)
		if err := d.submit(func() { d.finishWrite(id, werr) }); err != nil {
			d.log().WithField("property", req.Name.String()).Debug("Write completed after close")
		}
	})
}

func (d *Device) encode(req WriteRequest) ([]byte, error) {
	if req.Name.Model() != d.class.ModelKey {
		return nil, &store.NotFoundError{Resource: "property", Key: req.Name.String()}
	}
	if _, err := d.store.Get(req.Name); err != nil {
		return nil, err
	}
	last, err := d.store.Snapshot(req.Name.Index())
	if err != nil {
		return nil, err
	}
	return d.class.Table.Encode(req.Name.Index(), req.Name.Field(), req.Value, last)
}

func (d *Device) finishWrite(id uint64, err error) {
	p, ok := d.pending[id]
	if !ok {
		// Already failed by a disconnect.
		return
	}
	if err == nil {
		d.commit(id, p)
		return
	}

	quirk := d.class.Table.Quirks.SpuriousWriteError
	if code, isATT := transport.ATTCode(err); isATT && quirk != 0 && code == quirk {
		d.log().WithError(err).WithField("property", p.req.Name.String()).
			Info("Write reported a known spurious error, confirming by read")
		p.cause = err
		d.confirm(id, p)
		return
	}

	delete(d.pending, id)
	p.done(err)
}

func (d *Device) confirm(id uint64, p *pendingWrite) {
	idx := p.req.Name.Index()
	char, err := d.class.SensorChar(idx)
	if err != nil {
		delete(d.pending, id)
		p.done(p.cause)
		return
	}
	groutine.Go(d.ctx, "bridge-confirm", func(ctx context.Context) {
		data, rerr := d.peripheral.ReadCharacteristic(ctx, char)
		_ = d.submit(func() { d.finishConfirm(id, data, rerr) })
	})
}

func (d *Device) finishConfirm(id uint64, data []byte, err error) {
	p, ok := d.pending[id]
	if !ok {
		return
	}
	fail := func(err error) {
		delete(d.pending, id)
		p.done(err)
	}
	if err != nil {
		fail(fmt.Errorf("confirm %s: %w", p.req.Name, err))
		return
	}

	res, _, err := d.applyFrame(p.req.Name.Index(), data, property.Local)
	if err != nil {
		fail(fmt.Errorf("confirm %s: %w", p.req.Name, err))
		return
	}
	observed := res.State.Get(p.req.Name.Field(), p.req.Value.Kind())
	if !observed.Equal(p.req.Value) {
		fail(&NotConfirmedError{Name: p.req.Name, Intended: p.req.Value, Observed: observed, Cause: p.cause})
		return
	}
	d.log().WithField("property", p.req.Name.String()).Info("Write confirmed by read")
	d.commit(id, p)
}

func (d *Device) commit(id uint64, p *pendingWrite) {
	delete(d.pending, id)
	change, err := d.store.Set(p.req.Name, p.req.Value, p.req.Source, d.now())
	if err != nil {
		p.done(err)
		return
	}
	if change != nil {
		d.notifier.Publish([]property.Change{*change})
	}
	p.done(nil)
}

// failPending completes every pending write with err. Must run on the queue.
func (d *Device) failPending(err error) {
	for id, p := range d.pending {
		delete(d.pending, id)
		p.done(err)
	}
}

// Read fetches the current frame of a sub-device and applies it. Unlike writes, a
// read stops when ctx is cancelled.
func (d *Device) Read(ctx context.Context, subdevice int) ([]property.Change, error) {
	char, err := d.class.SensorChar(subdevice)
	if err != nil {
		return nil, err
	}
	data, err := d.peripheral.ReadCharacteristic(ctx, char)
	if err != nil {
		return nil, err
	}

	var (
		changes []property.Change
		ferr    error
	)
	if err := d.call(ctx, func() {
		_, changes, ferr = d.applyFrame(subdevice, data, property.Local)
	}); err != nil {
		return nil, err
	}
	return changes, ferr
}

// SetState moves the connectivity state machine. Entering Disconnected fails every
// pending write with ErrDisconnected and marks the store stale.
func (d *Device) SetState(state store.State) error {
	var err error
	if cerr := d.call(context.Background(), func() {
		if state == store.Disconnected {
			d.failPending(ErrDisconnected)
		}
		err = d.store.Transition(state)
	}); cerr != nil {
		return cerr
	}
	return err
}

// State returns the connectivity state.
func (d *Device) State() (store.State, error) {
	var s store.State
	err := d.call(context.Background(), func() { s = d.store.State() })
	return s, err
}

// Properties returns a copy of every property.
func (d *Device) Properties(ctx context.Context) ([]store.LocalProperty, error) {
	var props []store.LocalProperty
	if err := d.call(ctx, func() { props = d.store.Properties() }); err != nil {
		return nil, err
	}
	return props, nil
}

// Seed restores last-known-good values as stale.
func (d *Device) Seed(values map[property.Name]codec.Value) (int, error) {
	var n int
	err := d.call(context.Background(), func() { n = d.store.Seed(values, d.now()) })
	return n, err
}

// Close fails pending writes with ErrClosed and stops the queue. Work still
// queued at that point runs on the caller, so every write callback fires.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		_ = d.call(context.Background(), func() {
			d.closed = true
			d.failPending(ErrClosed)
		})
		d.mu.Lock()
		close(d.quit)
		d.mu.Unlock()
		d.stop()
		d.wg.Wait()
		d.drain()
	})
	return nil
}

// drain runs what is left in tasks once the loop has exited. No submit can
// succeed after quit is closed, so the channel only shrinks.
func (d *Device) drain() {
	for {
		select {
		case fn := <-d.tasks:
			fn()
		default:
			return
		}
	}
}
