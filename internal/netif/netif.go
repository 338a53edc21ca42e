// Package netif enumerates the host's network interfaces so an operator can
// choose which one sACN multicast is received on.
package netif

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

type Type string

const (
	TypeWifi     Type = "wifi"
	TypeEthernet Type = "ethernet"
	TypeCellular Type = "cellular"
	TypeLoopback Type = "loopback"
	TypeOther    Type = "other"
)

// Interface is a snapshot of one network interface.
type Interface struct {
	Name      string   `json:"name"`
	Type      Type     `json:"type"`
	Addresses []string `json:"addresses"`
	Index     int      `json:"index"`
	Up        bool     `json:"up"`
	Multicast bool     `json:"multicast"`

	handle *net.Interface
}

// Net returns the OS handle used to join multicast groups.
func (i Interface) Net() *net.Interface {
	return i.handle
}

func (i Interface) String() string {
	state := "down"
	if i.Up {
		state = "up"
	}
	return fmt.Sprintf("%s (%s, %s) %s", i.Name, i.Type, state, strings.Join(i.Addresses, ", "))
}

// List returns every interface sorted by name.
func List() ([]Interface, error) {
	ifs, err := list()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}
	sort.Slice(ifs, func(a, b int) bool { return ifs[a].Name < ifs[b].Name })
	return ifs, nil
}

// Lookup finds an interface by name.
func Lookup(name string) (Interface, error) {
	ifs, err := List()
	if err != nil {
		return Interface{}, err
	}
	for _, i := range ifs {
		if i.Name == name {
			return i, nil
		}
	}
	return Interface{}, fmt.Errorf("no network interface named %q", name)
}

func fromNet(ni net.Interface, typ Type, addrs []string) Interface {
	h := ni
	return Interface{
		Name:      ni.Name,
		Type:      typ,
		Addresses: normalizeAddresses(addrs),
		Index:     ni.Index,
		Up:        ni.Flags&net.FlagUp != 0,
		Multicast: ni.Flags&net.FlagMulticast != 0,
		handle:    &h,
	}
}

func normalizeAddresses(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func addrStrings(addrs []net.Addr) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		switch v := a.(type) {
		case *net.IPNet:
			out = append(out, v.IP.String())
		case *net.IPAddr:
			out = append(out, v.IP.String())
		default:
			out = append(out, a.String())
		}
	}
	return out
}

var namePrefixes = []struct {
	prefix string
	typ    Type
}{
	{"lo", TypeLoopback},
	{"wlan", TypeWifi},
	{"wlp", TypeWifi},
	{"wl", TypeWifi},
	{"ath", TypeWifi},
	{"wwan", TypeCellular},
	{"pdp_ip", TypeCellular},
	{"rmnet", TypeCellular},
	{"ccmni", TypeCellular},
	{"eth", TypeEthernet},
	{"enp", TypeEthernet},
	{"eno", TypeEthernet},
	{"ens", TypeEthernet},
	{"en", TypeEthernet},
}

// classifyByName guesses the interface type from naming conventions when the
// platform gives us nothing better.
func classifyByName(name string, flags net.Flags) Type {
	if flags&net.FlagLoopback != 0 {
		return TypeLoopback
	}
	lower := strings.ToLower(name)
	if strings.Contains(lower, "wi-fi") || strings.Contains(lower, "wireless") {
		return TypeWifi
	}
	if strings.Contains(lower, "ethernet") {
		return TypeEthernet
	}
	for _, p := range namePrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.typ
		}
	}
	return TypeOther
}
