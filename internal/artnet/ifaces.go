package artnet

import (
	"fmt"
	"net"
)

// LocalInterface describes one non-loopback IPv4 interface of this host.
// The engine captures the list once at construction and treats it as
// immutable for the process lifetime.
type LocalInterface struct {
	IP        net.IP
	Mac       net.HardwareAddr
	Netmask   net.IPMask
	Broadcast net.IP
}

// Contains reports whether ip falls inside this interface's subnet.
func (li LocalInterface) Contains(ip net.IP) bool {
	n := net.IPNet{IP: li.IP.Mask(li.Netmask), Mask: li.Netmask}
	return n.Contains(ip)
}

// InterfaceSource supplies the local interface inventory. Implemented over
// the OS below; tests substitute a fixed list.
type InterfaceSource interface {
	Interfaces() ([]LocalInterface, error)
}

// SystemInterfaces enumerates the host's non-loopback IPv4 interfaces.
type SystemInterfaces struct{}

// Interfaces walks every up, non-loopback interface and collects its IPv4
// addresses with mask, MAC and directed broadcast address.
func (SystemInterfaces) Interfaces() ([]LocalInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("error getting interfaces: %w", err)
	}

	var out []LocalInterface
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 || ifc.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			out = append(out, LocalInterface{
				IP:        ip4,
				Mac:       ifc.HardwareAddr,
				Netmask:   ipnet.Mask,
				Broadcast: broadcastAddr(ip4, ipnet.Mask),
			})
		}
	}
	return out, nil
}

// broadcastAddr computes the directed broadcast address of an IPv4 subnet.
func broadcastAddr(ip net.IP, mask net.IPMask) net.IP {
	b := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		b[i] = ip[i] | ^mask[i]
	}
	return b
}
