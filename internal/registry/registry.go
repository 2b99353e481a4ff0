// Package registry manages persistent printer IDs and custom names
package registry

import (
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrUnknownPrinter = errors.New("registry: unknown printer")

// Registry manages printer identities and custom names
type Registry struct {
	filePath string
	data     map[string]*PrinterEntry
	mu       sync.RWMutex
	log      zerolog.Logger
}

// PrinterEntry stores persistent information about a printer
type PrinterEntry struct {
	ID          string `json:"id"`
	IdentityKey string `json:"identity_key"`
	Kind        string `json:"kind"` // system, usb, serial, network
	Queue       string `json:"queue,omitempty"`
	VID         uint16 `json:"vid,omitempty"`
	PID         uint16 `json:"pid,omitempty"`
	Device      string `json:"device,omitempty"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	Description string `json:"description"`
	Name        string `json:"name,omitempty"` // Custom user-set name
}

// PrinterInfo is what discovery knows about a printer before it has an ID
type PrinterInfo struct {
	Kind        string
	Description string
	Queue       string
	Device      string
	VID         uint16
	PID         uint16
	Host        string
	Port        int
}

// New opens the registry stored at filePath. A missing file is created on
// the first save.
func New(filePath string, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		filePath: filePath,
		data:     make(map[string]*PrinterEntry),
		log:      log,
	}

	if err := r.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
	}

	return r, nil
}

// GetPrinterID gets or creates a persistent ID for a printer
func (r *Registry) GetPrinterID(info PrinterInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	identityKey := IdentityKey(info)

	if entry, exists := r.data[identityKey]; exists {
		return entry.ID
	}

	entry := &PrinterEntry{
		ID:          uuid.New().String(),
		IdentityKey: identityKey,
		Kind:        info.Kind,
		Queue:       info.Queue,
		VID:         info.VID,
		PID:         info.PID,
		Device:      info.Device,
		Host:        info.Host,
		Port:        info.Port,
		Description: info.Description,
	}
	r.data[identityKey] = entry

	// the ID is still usable for this process if the file cannot be written
	if err := r.save(); err != nil {
		r.log.Warn().Err(err).Str("path", r.filePath).Msg("registry save failed")
	}

	return entry.ID
}

// GetPrinterName gets the custom name for a printer, or empty string if not set
func (r *Registry) GetPrinterName(printerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.find(printerID); entry != nil {
		return entry.Name
	}
	return ""
}

// SetPrinterName sets a custom name for a printer and persists it
func (r *Registry) SetPrinterName(printerID string, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.find(printerID)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPrinter, printerID)
	}

	entry.Name = name
	if err := r.save(); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

// GetPrinterInfo gets all stored information for a printer
func (r *Registry) GetPrinterInfo(printerID string) *PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry := r.find(printerID); entry != nil {
		entryCopy := *entry
		return &entryCopy
	}
	return nil
}

// RemovePrinter removes a printer from the registry
func (r *Registry) RemovePrinter(printerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.find(printerID)
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPrinter, printerID)
	}

	delete(r.data, entry.IdentityKey)
	if err := r.save(); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

// GetAll returns a copy of all registered printers keyed by identity
func (r *Registry) GetAll() map[string]*PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*PrinterEntry, len(r.data))
	for k, v := range r.data {
		entryCopy := *v
		result[k] = &entryCopy
	}
	return result
}

// find must be called with mu held
func (r *Registry) find(printerID string) *PrinterEntry {
	for _, entry := range r.data {
		if entry.ID == printerID {
			return entry
		}
	}
	return nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &r.data)
}

// save writes through a temp file so a crash never leaves a torn registry
func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.filePath), 0755); err != nil {
		return err
	}

	tmp := r.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.filePath)
}

// IdentityKey derives the stable key a printer is remembered by
func IdentityKey(info PrinterInfo) string {
	switch info.Kind {
	case "system":
		if info.Queue != "" {
			return fmt.Sprintf("system:%s", info.Queue)
		}
	case "usb":
		if info.VID != 0 && info.PID != 0 {
			return fmt.Sprintf("usb:%04X:%04X", info.VID, info.PID)
		}
	case "serial":
		if info.Device != "" {
			return fmt.Sprintf("serial:%s", info.Device)
		}
	case "network":
		if info.Host != "" {
			return fmt.Sprintf("network:%s:%d", info.Host, info.Port)
		}
	}

	hash := md5.Sum([]byte(info.Description))
	return fmt.Sprintf("hash:%x", hash)
}
