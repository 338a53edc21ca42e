//go:build !linux

package netif

import (
	"net"

	log "github.com/sirupsen/logrus"
)

func list() ([]Interface, error) {
	nis, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(nis))
	for _, ni := range nis {
		addrs, err := ni.Addrs()
		if err != nil {
			log.Debugf("failed to list addresses for %v: %v", ni.Name, err)
		}
		out = append(out, fromNet(ni, classifyByName(ni.Name, ni.Flags), addrStrings(addrs)))
	}
	return out, nil
}
