// Package netutil derives the local IPv4 address and the set of broadcast
// addresses used for UDP fan-out.
package netutil

import (
	"net"
	"strings"
)

// LocalIP returns the primary IPv4 address of this host.
//
// It first uses the UDP-dial trick (no packet is sent; the kernel just picks
// the source address it would route to 8.8.8.8), then falls back to walking
// the interfaces, and finally to 127.0.0.1.
func LocalIP() string {
	if conn, err := net.Dial("udp4", "8.8.8.8:80"); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			return addr.IP.String()
		}
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipv4 := ipnet.IP.To4(); ipv4 != nil {
					return ipv4.String()
				}
			}
		}
	}
	return "127.0.0.1"
}

// BroadcastAddrs returns the candidate broadcast addresses for announce
// fan-out: the directed broadcast of every up, broadcast-capable interface
// plus the limited broadcast 255.255.255.255. Duplicates are removed.
func BroadcastAddrs() []string {
	var out []string
	seen := make(map[string]bool)

	ifaces, err := net.Interfaces()
	if err != nil {
		return []string{"255.255.255.255"}
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			ipv4 := ipnet.IP.To4()
			if ipv4 == nil || len(ipnet.Mask) != 4 {
				continue
			}
			bcast := make(net.IP, 4)
			for i := 0; i < 4; i++ {
				bcast[i] = ipv4[i] | ^ipnet.Mask[i]
			}
			s := bcast.String()
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}

	if !seen["255.255.255.255"] {
		out = append(out, "255.255.255.255")
	}
	return out
}

// isVirtualInterface reports whether name looks like a container or bridge
// interface that should not participate in LAN discovery.
func isVirtualInterface(name string) bool {
	for _, prefix := range []string{"br-", "veth", "docker"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
