package netif

import (
	"net"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

var sysClassNet = "/sys/class/net"

func list() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		ni, err := net.InterfaceByIndex(attrs.Index)
		if err != nil {
			// the link went away between the two calls
			log.Debugf("skipping interface %v: %v", attrs.Name, err)
			continue
		}

		addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			log.Debugf("failed to list addresses for %v: %v", attrs.Name, err)
		}
		ips := make([]string, 0, len(addrs))
		for _, a := range addrs {
			if a.IPNet != nil {
				ips = append(ips, a.IP.String())
			}
		}

		out = append(out, fromNet(*ni, classifyLink(link, ni.Flags), ips))
	}
	return out, nil
}

func classifyLink(link netlink.Link, flags net.Flags) Type {
	attrs := link.Attrs()
	if attrs.EncapType == "loopback" || flags&net.FlagLoopback != 0 {
		return TypeLoopback
	}
	if _, err := os.Stat(filepath.Join(sysClassNet, attrs.Name, "wireless")); err == nil {
		return TypeWifi
	}
	if classifyByName(attrs.Name, flags) == TypeCellular {
		return TypeCellular
	}
	if link.Type() == "device" && attrs.EncapType == "ether" {
		return TypeEthernet
	}
	// bridges, veth pairs, tunnels
	return TypeOther
}
