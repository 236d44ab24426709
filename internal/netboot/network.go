package netboot

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AccessPoint configures the fallback access point
type AccessPoint struct {
	SSID     string
	Password string
	Address  string // CIDR, e.g. 192.168.4.1/24
}

// DefaultAccessPoint returns the fallback access point settings
func DefaultAccessPoint() AccessPoint {
	return AccessPoint{
		SSID:     "RelayControllerAP",
		Password: "relaysetup",
		Address:  "192.168.4.1/24",
	}
}

// Network joins networks on behalf of the supervisor
type Network interface {
	// Associate joins the station network, giving up when ctx is done.
	// Networks that need an SSID return ErrNoNetwork when creds has none.
	Associate(ctx context.Context, creds Credentials) error
	// StartAccessPoint brings up the fallback access point
	StartAccessPoint(ctx context.Context, ap AccessPoint) error
	// Address returns the current IPv4 address
	Address(ctx context.Context) (net.IP, error)
}

// ErrNotSupported is returned by networks that cannot host an access point
var ErrNotSupported = errors.New("not supported")

// ErrNoNetwork is returned by Associate when no SSID has been configured
var ErrNoNetwork = errors.New("no network configured")

// Static is a host whose networking is managed elsewhere, such as a wired
// board or a development machine.
type Static struct {
	// Interface restricts Address to one interface when set
	Interface string
}

// Associate succeeds immediately
func (s *Static) Associate(context.Context, Credentials) error { return nil }

// StartAccessPoint is not supported
func (s *Static) StartAccessPoint(context.Context, AccessPoint) error {
	return fmt.Errorf("access point: %w", ErrNotSupported)
}

// Address returns the first non-loopback IPv4 address
func (s *Static) Address(context.Context) (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if s.Interface != "" && iface.Name != s.Interface {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					return ip4, nil
				}
			}
		}
	}
	return nil, errors.New("no IPv4 address")
}
