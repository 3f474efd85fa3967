package entityevent

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/MarcGrol/idmevents/lib/myerrors"
)

type registration struct {
	contentType string
	name        string
	order       int
	sequence    int
	disableable bool
	processor   any
}

// ProcessorInfo describes a registered processor, for diagnostics.
type ProcessorInfo struct {
	Name        string
	ContentType string
	Order       int
	EventTypes  []EventType
	Disableable bool
	Enabled     bool
}

// Registry holds the processors of all content types. Processors are registered explicitly at
// startup; enabling and disabling may happen at any time.
type Registry struct {
	sync.RWMutex
	registrations []registration
	names         map[string]bool
	disabled      map[string]bool
	eventTypes    map[string][]EventType
}

func NewRegistry(config Config) *Registry {
	r := &Registry{
		registrations: []registration{},
		names:         map[string]bool{},
		disabled:      map[string]bool{},
		eventTypes:    map[string][]EventType{},
	}
	for _, name := range config.DisabledProcessors {
		r.disabled[name] = true
	}
	return r
}

// Register adds processors for the given content type. Processor names are unique across all
// content types.
func Register[T Content](r *Registry, contentType string, processors ...Processor[T]) error {
	r.Lock()
	defer r.Unlock()

	for _, p := range processors {
		if p == nil || p.Name() == "" {
			return myerrors.NewInvalidInputErrorf("processor for %s without name", contentType)
		}
		if r.names[p.Name()] {
			return myerrors.NewConflictError(fmt.Errorf("processor with name %s already registered", p.Name()))
		}
		r.names[p.Name()] = true
		r.eventTypes[p.Name()] = p.EventTypes()
		r.registrations = append(r.registrations, registration{
			contentType: contentType,
			name:        p.Name(),
			order:       p.Order(),
			sequence:    len(r.registrations),
			disableable: p.IsDisableable(),
			processor:   p,
		})
	}
	return nil
}

// MustRegister is Register for wiring code at startup.
func MustRegister[T Content](r *Registry, contentType string, processors ...Processor[T]) {
	err := Register(r, contentType, processors...)
	if err != nil {
		panic(err)
	}
}

// Find returns the enabled processors that support the event, in the order they must run.
// The returned slice is a snapshot: registrations after the call do not affect it.
func Find[T Content](r *Registry, event *EntityEvent[T]) []Processor[T] {
	r.RLock()
	defer r.RUnlock()

	found := []registration{}
	for _, reg := range r.registrations {
		if reg.contentType != event.ContentType {
			continue
		}
		p, ok := reg.processor.(Processor[T])
		if !ok || !p.Supports(event) {
			continue
		}
		if reg.disableable && r.disabled[reg.name] {
			continue
		}
		found = append(found, reg)
	}

	sortRegistrations(found)

	processors := make([]Processor[T], 0, len(found))
	for _, reg := range found {
		processors = append(processors, reg.processor.(Processor[T]))
	}
	return processors
}

func sortRegistrations(regs []registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].order != regs[j].order {
			return regs[i].order < regs[j].order
		}
		if regs[i].name != regs[j].name {
			return regs[i].name < regs[j].name
		}
		return regs[i].sequence < regs[j].sequence
	})
}

func (r *Registry) Disable(name string) {
	r.Lock()
	defer r.Unlock()
	r.disabled[name] = true
}

func (r *Registry) Enable(name string) {
	r.Lock()
	defer r.Unlock()
	delete(r.disabled, name)
}

// IsEnabled reports whether the named processor takes part in dispatching.
func (r *Registry) IsEnabled(name string) bool {
	r.RLock()
	defer r.RUnlock()
	return r.isEnabled(name)
}

func (r *Registry) isEnabled(name string) bool {
	for _, reg := range r.registrations {
		if reg.name == name {
			return !reg.disableable || !r.disabled[name]
		}
	}
	return false
}

func (r *Registry) Processors(contentType string) []ProcessorInfo {
	r.RLock()
	defer r.RUnlock()

	regs := []registration{}
	for _, reg := range r.registrations {
		if reg.contentType == contentType {
			regs = append(regs, reg)
		}
	}
	sortRegistrations(regs)

	infos := make([]ProcessorInfo, 0, len(regs))
	for _, reg := range regs {
		infos = append(infos, ProcessorInfo{
			Name:        reg.name,
			ContentType: reg.contentType,
			Order:       reg.order,
			EventTypes:  slices.Clone(r.eventTypes[reg.name]),
			Disableable: reg.disableable,
			Enabled:     r.isEnabled(reg.name),
		})
	}
	return infos
}

func (r *Registry) ContentTypes() []string {
	r.RLock()
	defer r.RUnlock()

	contentTypes := []string{}
	for _, reg := range r.registrations {
		if !slices.Contains(contentTypes, reg.contentType) {
			contentTypes = append(contentTypes, reg.contentType)
		}
	}
	return contentTypes
}
