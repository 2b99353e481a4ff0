package printer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thereceipt/spool-engine/internal/registry"
)

var (
	ErrDiscoveryPending = errors.New("printer: discovery has not completed")
	ErrDiscoveryFailed  = errors.New("printer: discovery failed")
	ErrPrinterNotFound  = errors.New("printer: no matching printer")
	ErrNoHost           = errors.New("printer: network printer needs a host")
)

// Manager owns one caller's discovered printers and current selection.
// Managers built on the same registry share printer IDs and custom names.
type Manager struct {
	registry *registry.Registry
	sources  []Source
	log      zerolog.Logger

	mu         sync.RWMutex
	printers   []*Printer
	discovered bool
	selected   *Printer
	network    []*Printer
}

// Option configures a Manager
type Option func(*Manager)

// WithSources replaces the discovery sources
func WithSources(sources ...Source) Option {
	return func(m *Manager) { m.sources = sources }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// DefaultSources are the system queue, USB and serial sources
func DefaultSources(spooler *Spooler) []Source {
	return []Source{NewSystemSource(spooler), USBSource{}, SerialSource{}}
}

// NewManager creates a printer manager. Without WithSources it has no
// sources except manually added network printers.
func NewManager(reg *registry.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Find runs discovery and selects a printer. An empty filter selects the
// default destination, or the first printer when none is the default.
// Otherwise the first printer whose name or description contains filter,
// ignoring case, is selected. When nothing matches the selection is left
// unchanged.
func (m *Manager) Find(ctx context.Context, filter string) (*Printer, error) {
	m.mu.RLock()
	sources := append(append([]Source(nil), m.sources...), networkSource{m.networkPrinters()})
	m.mu.RUnlock()

	found, err := discover(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	printers := make([]*Printer, len(found))
	for i := range found {
		p := found[i]
		p.ID = m.registry.GetPrinterID(p.info())
		p.CustomName = m.registry.GetPrinterName(p.ID)
		printers[i] = &p
	}

	m.log.Debug().Int("count", len(printers)).Str("filter", filter).Msg("discovery complete")

	m.mu.Lock()
	defer m.mu.Unlock()

	m.printers = printers
	m.discovered = true
	if m.selected != nil {
		if p := byID(printers, m.selected.ID); p != nil {
			m.selected = p
		}
	}

	match := pick(printers, filter)
	if match == nil {
		if filter == "" {
			return nil, ErrPrinterNotFound
		}
		return nil, fmt.Errorf("%w: %q", ErrPrinterNotFound, filter)
	}

	m.selected = match
	selected := *match
	return &selected, nil
}

func pick(printers []*Printer, filter string) *Printer {
	if len(printers) == 0 {
		return nil
	}
	if filter == "" {
		for _, p := range printers {
			if p.Default {
				return p
			}
		}
		return printers[0]
	}
	for _, p := range printers {
		if p.matches(filter) {
			return p
		}
	}
	return nil
}

func byID(printers []*Printer, id string) *Printer {
	for _, p := range printers {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Printers returns the last discovered set in discovery order
func (m *Manager) Printers() ([]Printer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.discovered {
		return nil, ErrDiscoveryPending
	}

	result := make([]Printer, len(m.printers))
	for i, p := range m.printers {
		result[i] = *p
	}
	return result, nil
}

// Select makes the printer with the given ID or exact name current
func (m *Manager) Select(idOrName string) (*Printer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.discovered {
		return nil, ErrDiscoveryPending
	}

	p := byID(m.printers, idOrName)
	if p == nil {
		for _, candidate := range m.printers {
			if candidate.Name == idOrName || (candidate.CustomName != "" && candidate.CustomName == idOrName) {
				p = candidate
				break
			}
		}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrPrinterNotFound, idOrName)
	}

	m.selected = p
	selected := *p
	return &selected, nil
}

// Selected returns the current printer or nil
func (m *Manager) Selected() *Printer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.selected == nil {
		return nil
	}
	selected := *m.selected
	return &selected
}

// AddNetworkPrinter registers a raw TCP printer. Port 0 means 9100. The
// printer is part of every later discovery and can be selected right away
// once discovery has run.
func (m *Manager) AddNetworkPrinter(host string, port int, description string) (*Printer, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, ErrNoHost
	}
	if port == 0 {
		port = DefaultNetworkPort
	}
	if description == "" {
		description = fmt.Sprintf("Network: %s:%d", host, port)
	}

	p := &Printer{
		Name:        fmt.Sprintf("%s:%d", host, port),
		Description: description,
		Kind:        KindNetwork,
		Capability:  Raw,
		Host:        host,
		Port:        port,
	}
	p.ID = m.registry.GetPrinterID(p.info())
	p.CustomName = m.registry.GetPrinterName(p.ID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := byID(m.network, p.ID); existing != nil {
		added := *existing
		return &added, nil
	}
	m.network = append(m.network, p)
	if m.discovered && byID(m.printers, p.ID) == nil {
		m.printers = append(m.printers, p)
	}

	added := *p
	return &added, nil
}

// SetPrinterName stores a custom name for a printer
func (m *Manager) SetPrinterName(id string, name string) error {
	if err := m.registry.SetPrinterName(id, name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, list := range [][]*Printer{m.printers, m.network} {
		if p := byID(list, id); p != nil {
			p.CustomName = name
		}
	}
	if m.selected != nil && m.selected.ID == id {
		m.selected.CustomName = name
	}
	return nil
}

// KnownPrinters lists every identity the registry has stored, ordered by
// ID. It includes printers this manager has not discovered.
func (m *Manager) KnownPrinters() []registry.PrinterEntry {
	all := m.registry.GetAll()
	known := make([]registry.PrinterEntry, 0, len(all))
	for _, entry := range all {
		known = append(known, *entry)
	}
	sort.Slice(known, func(i, j int) bool { return known[i].ID < known[j].ID })
	return known
}

// ForgetPrinter drops a stored identity and its custom name. The printer
// also leaves this manager's lists and selection; discovering it again
// assigns a new ID.
func (m *Manager) ForgetPrinter(id string) error {
	if err := m.registry.RemovePrinter(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.printers = withoutID(m.printers, id)
	m.network = withoutID(m.network, id)
	if m.selected != nil && m.selected.ID == id {
		m.selected = nil
	}
	m.log.Info().Str("printer", id).Msg("printer forgotten")
	return nil
}

func withoutID(printers []*Printer, id string) []*Printer {
	kept := printers[:0]
	for _, p := range printers {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	return kept
}

// networkPrinters must be called with mu held
func (m *Manager) networkPrinters() []Printer {
	list := make([]Printer, len(m.network))
	for i, p := range m.network {
		list[i] = *p
	}
	return list
}

// networkSource reports manually added network printers
type networkSource struct {
	printers []Printer
}

func (networkSource) Kind() Kind { return KindNetwork }

func (s networkSource) Discover(context.Context) ([]Printer, error) {
	return s.printers, nil
}
