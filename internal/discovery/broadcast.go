package discovery

import (
	"fmt"
	"net"
	"strconv"
)

// limitedBroadcast is used when no interface offers a directed broadcast.
const limitedBroadcast = "255.255.255.255"

// ResolveBroadcast picks the address announcements are sent to.
//
// An explicit override wins; it may be a bare host or host:port. Otherwise
// the first up, non-loopback IPv4 interface's directed broadcast address is
// used, falling back to 255.255.255.255.
func ResolveBroadcast(override string, port int) (*net.UDPAddr, error) {
	if override != "" {
		target := override
		if _, _, err := net.SplitHostPort(override); err != nil {
			target = net.JoinHostPort(override, strconv.Itoa(port))
		}
		addr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			return nil, fmt.Errorf("resolve broadcast address %q: %w", override, err)
		}
		return addr, nil
	}

	ip, err := interfaceBroadcast()
	if err != nil {
		return nil, err
	}
	if ip == nil {
		ip = net.ParseIP(limitedBroadcast)
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

func interfaceBroadcast() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if bc := directedBroadcast(ipnet); bc != nil {
				return bc, nil
			}
		}
	}
	return nil, nil
}

// directedBroadcast returns ip | ^mask for an IPv4 network, nil otherwise.
func directedBroadcast(n *net.IPNet) net.IP {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}
	bc := make(net.IP, net.IPv4len)
	for i := range ip4 {
		bc[i] = ip4[i] | ^mask[i]
	}
	return bc
}
