package devclass

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/lbridge/internal/bledb"
	"github.com/srg/lbridge/internal/property"
)

// Identity describes a resolved peripheral. It is fixed once the device is built.
type Identity struct {
	Model       string
	OEMModel    string
	HardwareID  string
	ProductName string
}

// Candidate is what discovery knows about a peripheral before resolution.
type Candidate struct {
	// HardwareID is the peripheral UUID or MAC address.
	HardwareID string
	LocalName  string
	Services   []string
}

// Registration is the metadata the cloud side needs to register a resolved device.
type Registration struct {
	SubdeviceKeys []string
	TemplateKey   string
	PropertyNames []property.Name
}

// Resolution is the outcome of resolving a candidate.
type Resolution struct {
	Class        *Class
	Identity     Identity
	Registration Registration
}

// Binding ties an advertised service UUID to a class.
type Binding struct {
	Service string
	Class   *Class
}

// DefaultBindings returns the built-in bindings in priority order.
func DefaultBindings() []Binding {
	return []Binding{
		{Service: GrillRightService, Class: GrillRight},
	}
}

// Resolver matches advertised services against a priority-ordered binding list.
type Resolver struct {
	bindings []Binding
	logger   *logrus.Logger
}

// NewResolver builds a resolver over bindings, or DefaultBindings when none are given.
// A service bound twice keeps its first binding; the conflict is logged.
func NewResolver(logger *logrus.Logger, bindings ...Binding) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	if len(bindings) == 0 {
		bindings = DefaultBindings()
	}

	r := &Resolver{logger: logger}
	seen := make(map[string]*Class, len(bindings))
	for _, b := range bindings {
		svc := bledb.NormalizeUUID(b.Service)
		if first, ok := seen[svc]; ok {
			logger.WithFields(logrus.Fields{
				"service": svc,
				"kept":    first.String(),
				"dropped": b.Class.String(),
			}).Warn("Service bound to more than one device class, keeping the first binding")
			continue
		}
		seen[svc] = b.Class
		r.bindings = append(r.bindings, Binding{Service: svc, Class: b.Class})
	}
	return r
}

// Bindings returns the effective bindings in priority order.
func (r *Resolver) Bindings() []Binding {
	return append([]Binding(nil), r.bindings...)
}

// Resolve picks the class of a candidate. The first binding that matches any
// advertised service wins. A candidate matching several classes is logged and still
// resolved to the first. No match resolves to Generic.
func (r *Resolver) Resolve(c Candidate) Resolution {
	advertised := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		advertised[bledb.NormalizeUUID(s)] = true
	}

	var match *Class
	for _, b := range r.bindings {
		if !advertised[b.Service] {
			continue
		}
		if match == nil {
			match = b.Class
			continue
		}
		if b.Class != match {
			r.logger.WithFields(logrus.Fields{
				"hardware_id": c.HardwareID,
				"service":     b.Service,
				"kept":        match.String(),
				"overlapping": b.Class.String(),
			}).Warn("Candidate advertises services of more than one device class, keeping the first binding")
		}
	}

	if match == nil {
		r.logger.WithFields(logrus.Fields{
			"hardware_id": c.HardwareID,
			"services":    len(c.Services),
		}).Debug("No device class matched, falling back to generic")
		match = Generic
	}
	return newResolution(match, c)
}

func newResolution(class *Class, c Candidate) Resolution {
	name := c.LocalName
	if name == "" {
		name = class.ProductName
	}
	return Resolution{
		Class: class,
		Identity: Identity{
			Model:       class.Model,
			OEMModel:    class.OEMModel,
			HardwareID:  c.HardwareID,
			ProductName: name,
		},
		Registration: Registration{
			SubdeviceKeys: class.SubdeviceKeys(),
			TemplateKey:   class.TemplateKey,
			PropertyNames: class.PropertyNames(),
		},
	}
}
