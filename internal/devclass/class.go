// Package devclass holds the closed set of device classes the bridge understands and
// resolves discovered peripherals to one of them.
package devclass

import (
	"fmt"

	"github.com/srg/lbridge/internal/bledb"
	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/property"
)

// Tag identifies a device class.
type Tag int

const (
	TagGeneric Tag = iota
	TagGrillRight
)

func (t Tag) String() string {
	switch t {
	case TagGrillRight:
		return "grillright"
	default:
		return "generic"
	}
}

// Class is the static description of one device model: how its frames are laid
// out, which characteristics carry them and how its properties are named.
type Class struct {
	Tag         Tag
	ModelKey    string
	ProductName string
	Model       string
	OEMModel    string
	// TemplateKey identifies the cloud-side property template of the model.
	TemplateKey string
	// Service is the advertised service UUID the class is bound to.
	Service string
	// SensorChars lists the notifying characteristic of each sub-device, by index.
	SensorChars []string
	ControlChar string
	Table       *codec.Table
}

// Subdevices returns the number of logical sensors behind one peripheral.
func (c *Class) Subdevices() int {
	if len(c.SensorChars) == 0 {
		return 1
	}
	return len(c.SensorChars)
}

// SubdeviceFor maps a characteristic UUID to the sub-device it reports for.
// A class without dedicated sensor characteristics reports everything as index 0.
func (c *Class) SubdeviceFor(charUUID string) (int, bool) {
	if len(c.SensorChars) == 0 {
		return 0, true
	}
	u := bledb.NormalizeUUID(charUUID)
	for i, s := range c.SensorChars {
		if bledb.NormalizeUUID(s) == u {
			return i, true
		}
	}
	return 0, false
}

// SensorChar returns the sensor characteristic of a sub-device.
func (c *Class) SensorChar(index int) (string, error) {
	if index < 0 || index >= c.Subdevices() {
		return "", fmt.Errorf("sub-device %d outside [0, %d)", index, c.Subdevices())
	}
	if len(c.SensorChars) == 0 {
		return "", fmt.Errorf("%s class has no sensor characteristic", c.Tag)
	}
	return c.SensorChars[index], nil
}

// PropertyName names one field of one sub-device.
func (c *Class) PropertyName(index int, field string) (property.Name, error) {
	return property.NewName(index, c.ModelKey, field)
}

// PropertyNames lists every property of the class, sub-device by sub-device, in
// declaration order.
func (c *Class) PropertyNames() []property.Name {
	fields := c.Table.Describe()
	out := make([]property.Name, 0, c.Subdevices()*len(fields))
	for i := 0; i < c.Subdevices(); i++ {
		for _, f := range fields {
			out = append(out, property.MustName(i, c.ModelKey, f.Name))
		}
	}
	return out
}

// SubdeviceKeys returns the two-digit keys the cloud side registers sub-devices under.
func (c *Class) SubdeviceKeys() []string {
	keys := make([]string, c.Subdevices())
	for i := range keys {
		keys[i] = fmt.Sprintf("%02d", i)
	}
	return keys
}

func (c *Class) String() string {
	return c.Tag.String()
}

// Generic is the fallback for peripherals no binding recognises. Frames pass through
// as one opaque RAW property.
var Generic = &Class{
	Tag:         TagGeneric,
	ModelKey:    "generic",
	ProductName: "Generic BLE Device",
	Model:       "GenericBLE",
	OEMModel:    "generic-ble",
	TemplateKey: "generic",
	Table:       &codec.Table{},
}

// Classes returns every known class, generic last.
func Classes() []*Class {
	return []*Class{GrillRight, Generic}
}

// ByTag returns the class with the given tag.
func ByTag(t Tag) *Class {
	for _, c := range Classes() {
		if c.Tag == t {
			return c
		}
	}
	return Generic
}

// ByModelKey returns the class with the given model key.
func ByModelKey(key string) (*Class, bool) {
	for _, c := range Classes() {
		if c.ModelKey == key {
			return c, true
		}
	}
	return nil, false
}
