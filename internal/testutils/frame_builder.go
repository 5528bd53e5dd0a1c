package testutils

import "encoding/binary"

// GrillFrameBuilder assembles 16-byte GrillRight probe frames. A fresh builder
// holds the all-sentinel frame a probe sends with nothing plugged in, with control
// mode and alarm zero.
type GrillFrameBuilder struct {
	frame [16]byte
}

// NewGrillFrame creates a builder for an idle probe frame.
func NewGrillFrame() *GrillFrameBuilder {
	b := &GrillFrameBuilder{}
	for i := 1; i < 9; i++ {
		b.frame[i] = 0xFF
	}
	b.TargetTemp(-1).Temp(-1).PctDone(-1)
	return b
}

// Mode sets the low nibble of byte 0.
func (b *GrillFrameBuilder) Mode(mode byte) *GrillFrameBuilder {
	b.frame[0] = b.frame[0]&0xF0 | mode&0x0F
	return b
}

// Alarm sets the high nibble of byte 0.
func (b *GrillFrameBuilder) Alarm(alarm byte) *GrillFrameBuilder {
	b.frame[0] = b.frame[0]&0x0F | alarm<<4
	return b
}

func (b *GrillFrameBuilder) Meat(meat byte) *GrillFrameBuilder {
	b.frame[1] = meat
	return b
}

func (b *GrillFrameBuilder) Doneness(doneness byte) *GrillFrameBuilder {
	b.frame[2] = doneness
	return b
}

func (b *GrillFrameBuilder) TargetTime(h, m, s byte) *GrillFrameBuilder {
	b.frame[3], b.frame[4], b.frame[5] = h, m, s
	return b
}

func (b *GrillFrameBuilder) CurrentTime(h, m, s byte) *GrillFrameBuilder {
	b.frame[6], b.frame[7], b.frame[8] = h, m, s
	return b
}

// TargetTemp sets the target temperature in tenths of a degree; -1 writes the sentinel.
func (b *GrillFrameBuilder) TargetTemp(tenths int) *GrillFrameBuilder {
	putTemp(b.frame[10:12], tenths)
	return b
}

// Temp sets the current temperature in tenths of a degree; -1 writes the sentinel.
func (b *GrillFrameBuilder) Temp(tenths int) *GrillFrameBuilder {
	putTemp(b.frame[12:14], tenths)
	return b
}

// PctDone sets the progress percentage; -1 writes the sentinel.
func (b *GrillFrameBuilder) PctDone(pct int) *GrillFrameBuilder {
	if pct < 0 {
		binary.LittleEndian.PutUint16(b.frame[14:16], 0xFFFF)
	} else {
		binary.LittleEndian.PutUint16(b.frame[14:16], uint16(pct))
	}
	return b
}

// Byte overrides a single raw byte.
func (b *GrillFrameBuilder) Byte(offset int, v byte) *GrillFrameBuilder {
	b.frame[offset] = v
	return b
}

// Build returns a copy of the frame.
func (b *GrillFrameBuilder) Build() []byte {
	out := make([]byte, len(b.frame))
	copy(out, b.frame[:])
	return out
}

func putTemp(dst []byte, tenths int) {
	if tenths == -1 {
		binary.LittleEndian.PutUint16(dst, 0x8FFF)
		return
	}
	binary.LittleEndian.PutUint16(dst, uint16(int16(tenths)))
}
