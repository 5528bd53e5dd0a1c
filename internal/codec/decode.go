package codec

import "errors"

// FieldChange is one detected delta between the previous and the new snapshot.
type FieldChange struct {
	Field string
	Old   Value
	New   Value
}

// Result is the outcome of decoding one frame.
type Result struct {
	// State is the complete snapshot after the frame, ready to be committed.
	State Snapshot
	// Changes are in declaration order, primary fields before derived ones.
	Changes []FieldChange
	// Skipped lists fields whose raw value was invalid; they kept their previous value.
	Skipped []FieldError
}

// Decode interprets a frame against the previous snapshot of the same sub-device.
//
// A frame of the wrong length is rejected as a whole with a *FrameError. Otherwise
// every field is extracted in table order, sentinels become unknown values and a
// change is recorded only where the normalized value differs from prev. Fields with
// invalid raw values are skipped. prev is never modified; the caller commits
// Result.State, so a frame is applied entirely or not at all.
//
// Decode is not safe to call concurrently for the same snapshot.
func (t *Table) Decode(frame []byte, prev Snapshot) (*Result, error) {
	if t.Generic() {
		return t.decodeOpaque(frame, prev), nil
	}
	if len(frame) != t.FrameLength {
		return nil, &FrameError{Expected: t.FrameLength, Actual: len(frame)}
	}

	res := &Result{State: prev.Clone()}
	for i := range t.Fields {
		f := &t.Fields[i]
		v, err := DecodeField(f, frame)
		if err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				res.Skipped = append(res.Skipped, *fe)
				continue
			}
			return nil, err
		}
		res.stage(f.Name, prev.Get(f.Name, f.Kind), v)
	}
	for _, d := range t.Derived {
		res.stage(d.Name, prev.Get(d.Name, d.Kind), d.Compute(res.State))
	}
	return res, nil
}

func (t *Table) decodeOpaque(frame []byte, prev Snapshot) *Result {
	res := &Result{State: prev.Clone()}
	res.stage(RawField, prev.Get(RawField, KindOpaque), Opaque(frame))
	return res
}

func (r *Result) stage(name string, old, v Value) {
	r.State[name] = v
	if !old.Equal(v) {
		r.Changes = append(r.Changes, FieldChange{Field: name, Old: old, New: v})
	}
}
