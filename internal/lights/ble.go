//go:build linux || darwin

package lights

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/kpelzel/sacnproxy/internal/config"
)

var adapter = bluetooth.DefaultAdapter

var (
	serWID  = bluetooth.New16BitUUID(0xFFD5)
	charWID = bluetooth.New16BitUUID(0xFFD9)
	serRID  = bluetooth.New16BitUUID(0xFFD0)
)

type bleLight struct {
	dev  *bluetooth.Device
	char *bluetooth.DeviceCharacteristic
}

func (l *bleLight) on() error {
	return write(l.char, []byte{0xCC, 0x23, 0x33})
}

func (l *bleLight) setColor(c Color) error {
	return write(l.char, []byte{0x56, c.Red, c.Green, c.Blue, 0x00, 0xF0, 0xAA})
}

func (l *bleLight) disconnect() error {
	// leave the light dark when the proxy goes away
	if err := write(l.char, []byte{0xCC, 0x24, 0x33}); err != nil {
		log.Debugf("failed to turn off light: %v", err)
	}
	return l.dev.Disconnect()
}

func connectToLights(lights map[string]config.Light) (map[string]device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable ble stack: %w", err)
	}

	devs := make(map[string]device)
	fail := func(err error) (map[string]device, error) {
		for _, d := range devs {
			d.(*bleLight).dev.Disconnect()
		}
		return nil, err
	}

	for ln, l := range lights {
		address, err := lightAddress(ln, l)
		if err != nil {
			return fail(err)
		}

		log.Infof("connecting to light[%v] at %v...", ln, address.String())
		dev, err := adapter.Connect(address, bluetooth.ConnectionParams{})
		if err != nil {
			return fail(&LightError{Light: ln, Op: "connect to", Err: err})
		}
		log.Infof("successfully connected to light[%v] at %v", ln, address.String())

		char, err := writeCharacteristic(dev)
		if err != nil {
			dev.Disconnect()
			return fail(&LightError{Light: ln, Op: "discover characteristics of", Err: err})
		}
		devs[ln] = &bleLight{dev: dev, char: char}
	}
	return devs, nil
}

func writeCharacteristic(dev *bluetooth.Device) (*bluetooth.DeviceCharacteristic, error) {
	log.Debugf("looking for services: %v %v", serWID, serRID)
	ser, err := dev.DiscoverServices([]bluetooth.UUID{serWID, serRID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}
	if len(ser) < 2 {
		return nil, fmt.Errorf("failed to discover enough services: %v", len(ser))
	}

	wChars, err := ser[0].DiscoverCharacteristics([]bluetooth.UUID{charWID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover write characteristic: %w", err)
	}
	if len(wChars) < 1 {
		return nil, fmt.Errorf("failed to discover enough characteristics: %v", len(wChars))
	}
	return &wChars[0], nil
}

// Scan logs nearby BLE devices until ctx is done.
func Scan(ctx context.Context) error {
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable ble stack: %w", err)
	}

	go func() {
		<-ctx.Done()
		adapter.StopScan()
	}()

	log.Info("scanning...")
	err := adapter.Scan(func(adapter *bluetooth.Adapter, device bluetooth.ScanResult) {
		log.Infof("found device: %v %v %v", device.Address.String(), device.RSSI, device.LocalName())
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to scan for ble devices: %w", err)
	}
	return nil
}
