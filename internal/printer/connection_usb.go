package printer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

// USBConnection writes to the bulk OUT endpoint of a USB printer
type USBConnection struct {
	ctx      *gousb.Context
	device   *gousb.Device
	config   *gousb.Config
	iface    *gousb.Interface
	endpoint *gousb.OutEndpoint
	release  func()
	mu       sync.Mutex
}

// ConnectUSB claims the first interface with an OUT endpoint. The default
// interface is tried first, then every interface of every configuration.
func ConnectUSB(vid, pid uint16) (*USBConnection, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("device not found: %04X:%04X", vid, pid)
	}

	conn := &USBConnection{ctx: ctx, device: dev}

	iface, done, err := dev.DefaultInterface()
	if err != nil {
		dev.SetAutoDetach(true)
		iface, done, err = dev.DefaultInterface()
	}
	if err == nil {
		if ep := outEndpoint(iface); ep != nil {
			conn.iface, conn.endpoint, conn.release = iface, ep, done
			return conn, nil
		}
		done()
	}

	var lastErr error
	for _, cfgDesc := range dev.Desc.Configs {
		cfg, err := dev.Config(cfgDesc.Number)
		if err != nil {
			lastErr = fmt.Errorf("failed to set config %d: %w", cfgDesc.Number, err)
			continue
		}

		for _, ifaceDesc := range cfgDesc.Interfaces {
			iface, err := cfg.Interface(ifaceDesc.Number, 0)
			if err != nil {
				// some devices need a moment after the config switch
				time.Sleep(100 * time.Millisecond)
				if iface, err = cfg.Interface(ifaceDesc.Number, 0); err != nil {
					lastErr = fmt.Errorf("failed to claim interface %d: %w", ifaceDesc.Number, err)
					continue
				}
			}

			if ep := outEndpoint(iface); ep != nil {
				conn.config, conn.iface, conn.endpoint = cfg, iface, ep
				return conn, nil
			}
			iface.Close()
		}
		cfg.Close()
	}

	dev.Close()
	ctx.Close()

	if lastErr != nil {
		return nil, fmt.Errorf("failed to connect to USB printer: %w", lastErr)
	}
	return nil, fmt.Errorf("no suitable interface/endpoint found for USB printer %04X:%04X", vid, pid)
}

func outEndpoint(iface *gousb.Interface) *gousb.OutEndpoint {
	for _, desc := range iface.Setting.Endpoints {
		if desc.Direction != gousb.EndpointDirectionOut {
			continue
		}
		if ep, err := iface.OutEndpoint(desc.Number); err == nil {
			return ep
		}
	}
	return nil
}

// Write sends data to the USB printer
func (c *USBConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.endpoint.Write(data)
}

// Close releases the interface, device and libusb context
func (c *USBConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.release != nil {
		c.release()
	} else {
		if c.iface != nil {
			c.iface.Close()
		}
		if c.config != nil {
			c.config.Close()
		}
	}

	var err error
	if c.device != nil {
		err = c.device.Close()
	}
	if c.ctx != nil {
		if cerr := c.ctx.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
