// Package cloud mirrors local property changes to the cloud as datapoints.
//
// The mirror is best effort: pushes run in their own goroutines, failures are only
// logged and nothing here ever feeds back into local state.
package cloud

import (
	"context"
	"encoding/hex"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/property"
)

// Datapoint is one property value as the cloud property API receives it.
type Datapoint struct {
	ID        string        `json:"id"`
	DeviceID  string        `json:"device_id"`
	Property  property.Name `json:"property"`
	Value     interface{}   `json:"value"`
	Display   string        `json:"display"`
	Known     bool          `json:"known"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
}

// Sink delivers datapoints to the cloud.
type Sink interface {
	Push(ctx context.Context, dp Datapoint) error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewDatapoint converts a change into a datapoint. Unknown values are sent as -1.
func NewDatapoint(deviceID string, c property.Change) Datapoint {
	return Datapoint{
		ID:        newID(c.Timestamp),
		DeviceID:  deviceID,
		Property:  c.Name,
		Value:     wireValue(c.Value),
		Display:   c.Value.String(),
		Known:     c.Value.Known(),
		Timestamp: c.Timestamp,
		Source:    c.Source.String(),
	}
}

func wireValue(v codec.Value) interface{} {
	if !v.Known() {
		return codec.UnknownInt
	}
	switch v.Kind() {
	case codec.KindBool:
		return v.Bool()
	case codec.KindOpaque:
		return hex.EncodeToString(v.Bytes())
	default:
		return v.Int()
	}
}
