// Package printer handles printer discovery, selection and device connections
package printer

import (
	"fmt"
	"strings"

	"github.com/thereceipt/spool-engine/internal/registry"
)

// Kind is the way a printer is attached
type Kind string

const (
	KindSystem  Kind = "system"
	KindUSB     Kind = "usb"
	KindSerial  Kind = "serial"
	KindNetwork Kind = "network"
)

// Capability describes what a printer accepts
type Capability string

const (
	// Raw printers only take printer-language bytes
	Raw Capability = "raw"
	// PostScript printers also take rendered PostScript and PDF documents
	PostScript Capability = "postscript"
)

// DefaultNetworkPort is the raw TCP printing port
const DefaultNetworkPort = 9100

// Printer describes a discovered print destination
type Printer struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Kind        Kind       `json:"kind"`
	Capability  Capability `json:"capability"`
	Default     bool       `json:"default,omitempty"`

	Queue  string `json:"queue,omitempty"`
	Device string `json:"device,omitempty"`
	VID    uint16 `json:"vid,omitempty"`
	PID    uint16 `json:"pid,omitempty"`
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`

	CustomName string `json:"custom_name,omitempty"`
}

// DisplayName is the custom name when one was set
func (p *Printer) DisplayName() string {
	if p.CustomName != "" {
		return p.CustomName
	}
	return p.Name
}

// AcceptsPostScript reports whether rendered documents can be sent to p
func (p *Printer) AcceptsPostScript() bool {
	return p.Capability == PostScript
}

func (p *Printer) String() string {
	return fmt.Sprintf("%s (%s)", p.DisplayName(), p.Kind)
}

// matches reports a case-insensitive substring match on any of the names
func (p *Printer) matches(filter string) bool {
	filter = strings.ToLower(filter)
	for _, s := range []string{p.Name, p.CustomName, p.Description} {
		if s != "" && strings.Contains(strings.ToLower(s), filter) {
			return true
		}
	}
	return false
}

func (p *Printer) info() registry.PrinterInfo {
	return registry.PrinterInfo{
		Kind:        string(p.Kind),
		Description: p.Description,
		Queue:       p.Queue,
		Device:      p.Device,
		VID:         p.VID,
		PID:         p.PID,
		Host:        p.Host,
		Port:        p.Port,
	}
}
