package lights

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/kpelzel/sacnproxy/internal/config"
)

// BlueZ addresses peripherals by MAC.
func lightAddress(ln string, l config.Light) (bluetooth.Address, error) {
	mac, err := bluetooth.ParseMAC(l.MACAddress)
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("failed to parse mac address of light[%v] (%q): %w", ln, l.MACAddress, err)
	}
	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

func write(c *bluetooth.DeviceCharacteristic, p []byte) error {
	_, err := c.WriteWithoutResponse(p)
	return err
}
