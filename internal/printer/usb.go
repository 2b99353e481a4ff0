package printer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/gousb"
)

// USBSource lists USB devices of the printer class
type USBSource struct{}

func (USBSource) Kind() Kind { return KindUSB }

func (USBSource) Discover(ctx context.Context) ([]Printer, error) {
	usb := gousb.NewContext()
	defer usb.Close()

	// only the descriptor is inspected, so nothing is opened that is not a printer
	devices, err := usb.OpenDevices(isPrinterClass)
	for _, dev := range devices {
		defer dev.Close()
	}
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	var printers []Printer
	for _, dev := range devices {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		desc := dev.Desc
		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()

		name := strings.TrimSpace(manufacturer + " " + product)
		if name == "" {
			name = fmt.Sprintf("%04X:%04X", desc.Vendor, desc.Product)
		}

		printers = append(printers, Printer{
			Name:        name,
			Description: fmt.Sprintf("USB: %s (%04X:%04X)", name, desc.Vendor, desc.Product),
			Kind:        KindUSB,
			Capability:  Raw,
			VID:         uint16(desc.Vendor),
			PID:         uint16(desc.Product),
		})
	}
	return printers, nil
}

// isPrinterClass checks the device class and then every interface setting
func isPrinterClass(desc *gousb.DeviceDesc) bool {
	if desc.Class == gousb.ClassPrinter {
		return true
	}
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == gousb.ClassPrinter {
					return true
				}
			}
		}
	}
	return false
}
