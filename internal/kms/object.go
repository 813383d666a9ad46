package kms

import (
	"fmt"

	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/logger"
)

type property struct {
	id        uint32
	name      string
	value     uint64
	immutable bool
	enums     map[string]uint64
}

// object holds the properties of one KMS object, resolved by name once.
// Values staged with setValue are written into atomic requests by populate.
type object struct {
	dev     drm.Device
	id      uint32
	objType uint32
	props   map[string]*property
	order   []string
}

func (o *object) ID() uint32 {
	return o.id
}

func (o *object) initProps(names []string) error {
	values, err := o.dev.ObjectProperties(o.id, o.objType)
	if err != nil {
		return fmt.Errorf("properties of object %d: %w", o.id, err)
	}
	current := make(map[uint32]uint64, len(values))
	for _, v := range values {
		current[v.ID] = v.Value
	}

	byName := make(map[string]*property)
	for _, v := range values {
		info, err := o.dev.Property(v.ID)
		if err != nil {
			logger.Debug("skipping unreadable property", "object", o.id, "property", v.ID, "err", err)
			continue
		}
		p := &property{
			id:        info.ID,
			name:      info.Name,
			value:     current[v.ID],
			immutable: info.Flags&drm.PropImmutable != 0,
		}
		if len(info.Enums) > 0 {
			p.enums = make(map[string]uint64, len(info.Enums))
			for _, e := range info.Enums {
				p.enums[e.Name] = e.Value
			}
		}
		byName[info.Name] = p
	}

	o.props = make(map[string]*property, len(names))
	o.order = o.order[:0]
	for _, name := range names {
		if p, ok := byName[name]; ok {
			o.props[name] = p
			o.order = append(o.order, name)
		}
	}
	return nil
}

func (o *object) prop(name string) *property {
	return o.props[name]
}

func (o *object) hasProp(name string) bool {
	_, ok := o.props[name]
	return ok
}

func (o *object) value(name string) uint64 {
	if p := o.props[name]; p != nil {
		return p.value
	}
	return 0
}

func (o *object) setValue(name string, v uint64) bool {
	p := o.props[name]
	if p == nil {
		return false
	}
	p.value = v
	return true
}

// setImmutable keeps a property readable but out of atomic requests.
func (o *object) setImmutable(name string) {
	if p := o.props[name]; p != nil {
		p.immutable = true
	}
}

func (o *object) deleteProp(name string) {
	delete(o.props, name)
	for i, n := range o.order {
		if n == name {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// populate appends every mutable property to req.
func (o *object) populate(req *drm.AtomicRequest) {
	for _, name := range o.order {
		p := o.props[name]
		if p.immutable {
			continue
		}
		req.Add(o.id, p.id, p.value)
	}
}
