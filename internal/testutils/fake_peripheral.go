package testutils

import (
	"context"
	"sync"

	"github.com/srg/lbridge/internal/bledb"
	"github.com/srg/lbridge/internal/transport"
)

// Write is one write seen by a FakePeripheral.
type Write struct {
	UUID string
	Data []byte
}

// FakePeripheral is an in-memory transport.Peripheral. Writes succeed and reads
// return the last value stored with SetValue unless the hooks say otherwise.
type FakePeripheral struct {
	mu     sync.Mutex
	writes []Write
	values map[string][]byte
	reads  int

	// OnWrite, when set, decides the outcome of a write.
	OnWrite func(uuid string, data []byte) error
	// OnRead, when set, replaces the stored values.
	OnRead func(ctx context.Context, uuid string) ([]byte, error)
	// Gate, when set, holds every write until it is closed or receives.
	Gate chan struct{}
	// Started receives the UUID of each write as it begins, if set.
	Started chan string
}

var _ transport.Peripheral = (*FakePeripheral)(nil)

func NewFakePeripheral() *FakePeripheral {
	return &FakePeripheral{values: map[string][]byte{}}
}

func (p *FakePeripheral) WriteCharacteristic(_ context.Context, uuid string, data []byte) error {
	if p.Started != nil {
		p.Started <- uuid
	}
	if p.Gate != nil {
		<-p.Gate
	}
	p.mu.Lock()
	p.writes = append(p.writes, Write{UUID: bledb.NormalizeUUID(uuid), Data: append([]byte(nil), data...)})
	hook := p.OnWrite
	p.mu.Unlock()
	if hook != nil {
		return hook(uuid, data)
	}
	return nil
}

func (p *FakePeripheral) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	p.mu.Lock()
	p.reads++
	hook := p.OnRead
	v, ok := p.values[bledb.NormalizeUUID(uuid)]
	p.mu.Unlock()
	if hook != nil {
		return hook(ctx, uuid)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, transport.ErrNotConnected
	}
	return append([]byte(nil), v...), nil
}

// SetValue stores what reads of uuid return.
func (p *FakePeripheral) SetValue(uuid string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[bledb.NormalizeUUID(uuid)] = append([]byte(nil), data...)
}

// Writes returns the completed writes in order.
func (p *FakePeripheral) Writes() []Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Write(nil), p.writes...)
}

// Reads returns how many reads were issued.
func (p *FakePeripheral) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}
