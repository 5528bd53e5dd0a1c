package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/devclass"
)

// parseHex accepts "0a ff", "0a:ff", "0x0aff" and plain hex.
func parseHex(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "").Replace(s)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

func classByModel(key string) (*devclass.Class, error) {
	class, ok := devclass.ByModelKey(key)
	if !ok {
		keys := make([]string, 0, len(devclass.Classes()))
		for _, c := range devclass.Classes() {
			keys = append(keys, c.ModelKey)
		}
		return nil, fmt.Errorf("unknown model %q: must be one of %v", key, keys)
	}
	return class, nil
}

// snapshotOf decodes frame into a fresh snapshot; an empty frame gives an empty one.
func snapshotOf(class *devclass.Class, frame string) (codec.Snapshot, error) {
	if frame == "" {
		return codec.Snapshot{}, nil
	}
	data, err := parseHex(frame)
	if err != nil {
		return nil, err
	}
	res, err := class.Table.Decode(data, codec.Snapshot{})
	if err != nil {
		return nil, err
	}
	return res.State, nil
}
