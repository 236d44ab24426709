package netboot

import (
	"github.com/grandcat/zeroconf"
)

// HTTPService is the DNS-SD service type of the control surface
const HTTPService = "_http._tcp"

// Advertiser publishes the control surface on the local network
type Advertiser interface {
	Advertise(instance string, port int, txt []string) (shutdown func(), err error)
}

// Zeroconf advertises over multicast DNS
type Zeroconf struct {
	Domain string
}

// Advertise registers the HTTP service on all interfaces
func (z *Zeroconf) Advertise(instance string, port int, txt []string) (func(), error) {
	domain := z.Domain
	if domain == "" {
		domain = "local."
	}
	srv, err := zeroconf.Register(instance, HTTPService, domain, port, txt, nil)
	if err != nil {
		return nil, err
	}
	return srv.Shutdown, nil
}
