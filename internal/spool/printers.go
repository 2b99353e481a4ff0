package spool

import (
	"context"

	"github.com/thereceipt/spool-engine/internal/printer"
	"github.com/thereceipt/spool-engine/internal/registry"
	"github.com/thereceipt/spool-engine/internal/status"
)

// FindPrinter runs discovery and selects the default destination, or the
// first printer matching filter
func (s *Session) FindPrinter(filter string) *status.Operation {
	return s.schedule(status.KindFinding, func(ctx context.Context) (any, error) {
		p, err := s.printers.Find(ctx, filter)
		if err != nil {
			return nil, err
		}
		s.log.Info().Str("printer", p.ID).Str("name", p.DisplayName()).Msg("printer selected")
		return p, nil
	})
}

// Printers returns the last discovered printers
func (s *Session) Printers() ([]printer.Printer, error) {
	return s.printers.Printers()
}

// Printer returns the selected printer, or nil
func (s *Session) Printer() *printer.Printer {
	return s.printers.Selected()
}

// SelectPrinter selects a discovered printer by ID or exact name
func (s *Session) SelectPrinter(idOrName string) (*printer.Printer, error) {
	if err := s.Active(); err != nil {
		return nil, err
	}
	return s.printers.Select(idOrName)
}

// AddNetworkPrinter adds a raw TCP printer to the next discoveries
func (s *Session) AddNetworkPrinter(host string, port int, description string) (*printer.Printer, error) {
	if err := s.Active(); err != nil {
		return nil, err
	}
	return s.printers.AddNetworkPrinter(host, port, description)
}

// SetPrinterName stores a custom name for a printer
func (s *Session) SetPrinterName(id, name string) error {
	if err := s.Active(); err != nil {
		return err
	}
	return s.printers.SetPrinterName(id, name)
}

// KnownPrinters lists every stored printer identity, discovered or not
func (s *Session) KnownPrinters() []registry.PrinterEntry {
	return s.printers.KnownPrinters()
}

// ForgetPrinter removes a stored printer identity and its custom name
func (s *Session) ForgetPrinter(id string) error {
	if err := s.Active(); err != nil {
		return err
	}
	return s.printers.ForgetPrinter(id)
}
