// Package store keeps the local property table of one peripheral and its
// connectivity state.
//
// A Store is not safe for concurrent use. The bridge mutates it from a single serial
// queue; other goroutines read copies returned by Properties.
package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/devclass"
	"github.com/srg/lbridge/internal/property"
)

// LocalProperty is the current and previous value of one property.
type LocalProperty struct {
	Name     property.Name
	Kind     codec.Kind
	Value    codec.Value
	Previous codec.Value
	// Direction is ToDevice for properties a command can write.
	Direction property.Direction
	// Stale is set while the value has not been confirmed by the peripheral since
	// the last disconnect.
	Stale     bool
	UpdatedAt time.Time
}

// subdevice is one arena slot; the slot index is the sub-device handle.
type subdevice struct {
	props *orderedmap.OrderedMap[string, *LocalProperty]
}

// Store holds one sub-device snapshot per logical sensor of the peripheral.
type Store struct {
	class      *devclass.Class
	subdevices []subdevice
	state      State
	logger     *logrus.Logger
}

// New creates a store with every property unknown and stale.
func New(class *devclass.Class, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{
		class:      class,
		subdevices: make([]subdevice, class.Subdevices()),
		logger:     logger,
	}
	fields := class.Table.Describe()
	for i := range s.subdevices {
		props := orderedmap.New[string, *LocalProperty]()
		for _, f := range fields {
			dir := property.FromDevice
			if f.Writable {
				dir = property.ToDevice
			}
			props.Set(f.Name, &LocalProperty{
				Name:      property.MustName(i, class.ModelKey, f.Name),
				Kind:      f.Kind,
				Value:     codec.Unknown(f.Kind),
				Previous:  codec.Unknown(f.Kind),
				Direction: dir,
				Stale:     true,
			})
		}
		s.subdevices[i].props = props
	}
	return s
}

// Class returns the device class the store was built for.
func (s *Store) Class() *devclass.Class {
	return s.class
}

// Len returns the number of sub-devices.
func (s *Store) Len() int {
	return len(s.subdevices)
}

func (s *Store) slot(idx int) (*subdevice, error) {
	if idx < 0 || idx >= len(s.subdevices) {
		return nil, &NotFoundError{Resource: "sub-device", Key: strconv.Itoa(idx)}
	}
	return &s.subdevices[idx], nil
}

func (s *Store) lookup(name property.Name) (*LocalProperty, error) {
	if name.Model() != s.class.ModelKey {
		return nil, &NotFoundError{Resource: "property", Key: name.String()}
	}
	sd, err := s.slot(name.Index())
	if err != nil {
		return nil, &NotFoundError{Resource: "property", Key: name.String()}
	}
	p, ok := sd.props.Get(name.Field())
	if !ok {
		return nil, &NotFoundError{Resource: "property", Key: name.String()}
	}
	return p, nil
}

// Snapshot returns the current values of one sub-device.
func (s *Store) Snapshot(idx int) (codec.Snapshot, error) {
	sd, err := s.slot(idx)
	if err != nil {
		return nil, err
	}
	snap := make(codec.Snapshot, sd.props.Len())
	for pair := sd.props.Oldest(); pair != nil; pair = pair.Next() {
		snap[pair.Key] = pair.Value.Value
	}
	return snap, nil
}

// Apply commits a decoded frame to a sub-device and returns the resulting changes in
// the order the decoder reported them. Every property of the sub-device becomes fresh.
func (s *Store) Apply(idx int, res *codec.Result, at time.Time, source property.Source) ([]property.Change, error) {
	sd, err := s.slot(idx)
	if err != nil {
		return nil, err
	}
	for _, fc := range res.Changes {
		if _, ok := sd.props.Get(fc.Field); !ok {
			return nil, &NotFoundError{Resource: "property", Key: fmt.Sprintf("%02d:%s:%s", idx, s.class.ModelKey, fc.Field)}
		}
	}

	changes := make([]property.Change, 0, len(res.Changes))
	for _, fc := range res.Changes {
		p, _ := sd.props.Get(fc.Field)
		p.Previous = p.Value
		p.Value = fc.New
		p.UpdatedAt = at
		changes = append(changes, property.Change{Name: p.Name, Value: fc.New, Timestamp: at, Source: source})
	}
	for pair := sd.props.Oldest(); pair != nil; pair = pair.Next() {
		if v, ok := res.State[pair.Key]; ok && !v.Equal(pair.Value.Value) {
			// The decoder's state wins when the store moved since the snapshot was taken.
			s.logger.WithField("property", pair.Value.Name.String()).Debug("Resynchronizing property with decoded state")
			pair.Value.Previous = pair.Value.Value
			pair.Value.Value = v
			pair.Value.UpdatedAt = at
		}
		pair.Value.Stale = false
	}
	return changes, nil
}

// Get returns a copy of one property.
func (s *Store) Get(name property.Name) (LocalProperty, error) {
	p, err := s.lookup(name)
	if err != nil {
		return LocalProperty{}, err
	}
	return *p, nil
}

// Set records a value confirmed by a write acknowledgement. It returns the change, or
// nil when the property already held the value.
func (s *Store) Set(name property.Name, v codec.Value, source property.Source, at time.Time) (*property.Change, error) {
	p, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if v.Kind() != p.Kind {
		return nil, fmt.Errorf("property %s holds %s values, got %s", name, p.Kind, v.Kind())
	}
	if p.Value.Equal(v) {
		return nil, nil
	}
	p.Previous = p.Value
	p.Value = v
	p.UpdatedAt = at
	return &property.Change{Name: p.Name, Value: v, Timestamp: at, Source: source}, nil
}

// Seed restores last-known-good values, e.g. from persistence, without marking them
// fresh. Values for names the store does not hold, or of the wrong kind, are skipped
// and logged. It returns the number of properties seeded.
func (s *Store) Seed(values map[property.Name]codec.Value, at time.Time) int {
	n := 0
	for name, v := range values {
		p, err := s.lookup(name)
		if err != nil {
			s.logger.WithField("property", name.String()).Warn("Skipping seed value for unknown property")
			continue
		}
		if v.Kind() != p.Kind {
			s.logger.WithFields(logrus.Fields{
				"property": name.String(),
				"want":     p.Kind.String(),
				"got":      v.Kind().String(),
			}).Warn("Skipping seed value of the wrong kind")
			continue
		}
		p.Value = v
		p.UpdatedAt = at
		p.Stale = true
		n++
	}
	return n
}

// Properties returns a copy of every property, sub-device by sub-device, in
// declaration order.
func (s *Store) Properties() []LocalProperty {
	var out []LocalProperty
	for i := range s.subdevices {
		for pair := s.subdevices[i].props.Oldest(); pair != nil; pair = pair.Next() {
			out = append(out, *pair.Value)
		}
	}
	return out
}

// MarkAllStale flags every property as stale. Values are kept.
//
// Every property is fed by the frame decoder, writable ones included, so none of
// them is confirmed once the link is gone. Direction only says whether the property
// can be written.
func (s *Store) MarkAllStale() {
	for i := range s.subdevices {
		for pair := s.subdevices[i].props.Oldest(); pair != nil; pair = pair.Next() {
			pair.Value.Stale = true
		}
	}
}

// State returns the connectivity state.
func (s *Store) State() State {
	return s.state
}

// Transition moves the connectivity state machine. Entering Disconnected marks every
// property stale.
func (s *Store) Transition(to State) error {
	if !s.state.CanTransition(to) {
		return &TransitionError{From: s.state, To: to}
	}
	from := s.state
	s.state = to
	if to == Disconnected {
		s.MarkAllStale()
	}
	s.logger.WithFields(logrus.Fields{
		"model": s.class.ModelKey,
		"from":  from.String(),
		"to":    to.String(),
	}).Debug("Connectivity state changed")
	return nil
}
