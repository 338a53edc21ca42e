package netif

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

func TestClassifyLink(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "wlp2s0", "wireless"), 0o755))

	old := sysClassNet
	sysClassNet = dir
	defer func() { sysClassNet = old }()

	tests := []struct {
		name  string
		link  netlink.Link
		flags net.Flags
		want  Type
	}{
		{"loopback", &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lo", EncapType: "loopback"}}, net.FlagLoopback, TypeLoopback},
		{"wireless", &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "wlp2s0", EncapType: "ether"}}, 0, TypeWifi},
		{"ethernet", &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eno1", EncapType: "ether"}}, 0, TypeEthernet},
		{"oddly named ethernet", &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lan", EncapType: "ether"}}, 0, TypeEthernet},
		{"cellular", &netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "wwan0", EncapType: "none"}}, 0, TypeCellular},
		{"veth", &netlink.Veth{LinkAttrs: netlink.LinkAttrs{Name: "veth12", EncapType: "ether"}}, 0, TypeOther},
		{"bridge", &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: "br0", EncapType: "ether"}}, 0, TypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyLink(tt.link, tt.flags))
		})
	}
}
