package notify

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/property"
)

func changes(fields ...string) []property.Change {
	out := make([]property.Change, 0, len(fields))
	for i, f := range fields {
		out = append(out, property.Change{
			Name:      property.MustName(0, "grillrt", f),
			Value:     codec.Int(codec.KindInt16, int64(i)),
			Timestamp: time.Unix(0, 0),
		})
	}
	return out
}

type recorder struct {
	calls [][]property.Change
	ids   []string
}

func (r *recorder) OnChanges(deviceID string, c []property.Change) {
	r.ids = append(r.ids, deviceID)
	r.calls = append(r.calls, c)
}

func TestPublishOrderAndScope(t *testing.T) {
	n := New(Scope{DeviceID: "dev-1", DSN: "AC000W000000001"})

	var order []string
	first := &recorder{}
	n.Subscribe(first)
	n.Subscribe(ListenerFunc(func(string, []property.Change) { order = append(order, "second") }))
	n.Subscribe(ListenerFunc(func(string, []property.Change) { order = append(order, "third") }))

	in := changes("CONTROL_MODE", "TARGET_TEMP")
	n.Publish(in)

	require.Len(t, first.calls, 1)
	assert.Equal(t, []string{"dev-1"}, first.ids)
	assert.Equal(t, in, first.calls[0])
	assert.Equal(t, []string{"second", "third"}, order)
	assert.Equal(t, "AC000W000000001", n.Scope().DSN)
}

func TestPublishCopiesPerListener(t *testing.T) {
	n := New(Scope{DeviceID: "dev-1"})

	n.Subscribe(ListenerFunc(func(_ string, c []property.Change) {
		c[0] = property.Change{}
	}))
	rec := &recorder{}
	n.Subscribe(rec)

	in := changes("TEMP")
	n.Publish(in)

	assert.Equal(t, "00:grillrt:TEMP", rec.calls[0][0].Name.String())
	assert.Equal(t, "00:grillrt:TEMP", in[0].Name.String())
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	n := New(Scope{DeviceID: "dev-1", Logger: logger})

	n.Subscribe(ListenerFunc(func(string, []property.Change) { panic("boom") }))
	rec := &recorder{}
	n.Subscribe(rec)

	assert.NotPanics(t, func() { n.Publish(changes("TEMP")) })
	assert.Len(t, rec.calls, 1)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "boom", entry.Data["panic"])
	assert.Equal(t, "dev-1", entry.Data["device_id"])
}

func TestEmptyChangeSetNotDelivered(t *testing.T) {
	n := New(Scope{DeviceID: "dev-1"})
	rec := &recorder{}
	n.Subscribe(rec)

	n.Publish(nil)
	n.Publish([]property.Change{})
	assert.Empty(t, rec.calls)
}

func TestUnsubscribe(t *testing.T) {
	n := New(Scope{DeviceID: "dev-1"})
	a, b := &recorder{}, &recorder{}
	unsubA := n.Subscribe(a)
	n.Subscribe(b)
	require.Equal(t, 2, n.Len())

	unsubA()
	unsubA()
	assert.Equal(t, 1, n.Len())

	n.Publish(changes("TEMP"))
	assert.Empty(t, a.calls)
	assert.Len(t, b.calls, 1)
}

func TestUnsubscribeDuringDelivery(t *testing.T) {
	n := New(Scope{DeviceID: "dev-1"})
	var unsub func()
	calls := 0
	unsub = n.Subscribe(ListenerFunc(func(string, []property.Change) {
		calls++
		unsub()
	}))
	rec := &recorder{}
	n.Subscribe(rec)

	n.Publish(changes("TEMP"))
	n.Publish(changes("TEMP"))
	assert.Equal(t, 1, calls)
	assert.Len(t, rec.calls, 2)
}
