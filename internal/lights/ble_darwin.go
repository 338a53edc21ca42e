package lights

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/kpelzel/sacnproxy/internal/config"
)

const scanTimeout = 5 * time.Second

// CoreBluetooth only connects to peripherals it has seen in a scan, and
// identifies them by a per-host UUID instead of the MAC.
func lightAddress(ln string, l config.Light) (bluetooth.Address, error) {
	uuid, err := bluetooth.ParseUUID(l.UUID)
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("failed to parse uuid of light[%v] (%q): %w", ln, l.UUID, err)
	}

	found := make(chan error, 1)
	go func() {
		log.Infof("scanning for light[%v] at %v...", ln, uuid.String())
		err := adapter.Scan(func(adapter *bluetooth.Adapter, device bluetooth.ScanResult) {
			if device.Address.String() == uuid.String() {
				select {
				case found <- nil:
				default:
				}
				adapter.StopScan()
			}
		})
		if err != nil {
			select {
			case found <- fmt.Errorf("failed to scan for ble devices: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-found:
		if err != nil {
			return bluetooth.Address{}, fmt.Errorf("error while scanning for light[%v] at %v: %w", ln, l.UUID, err)
		}
		log.Infof("found light[%v] at %v", ln, l.UUID)
	case <-time.After(scanTimeout):
		adapter.StopScan()
		return bluetooth.Address{}, fmt.Errorf("failed to find light[%v] at %v. Is it in range?", ln, l.UUID)
	}

	return bluetooth.Address{UUID: uuid}, nil
}

func write(c *bluetooth.DeviceCharacteristic, p []byte) error {
	_, err := c.WriteWithoutResponse(p)
	return err
}
