package netboot

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner executes a command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI drives NetworkManager through its command line client
type NMCLI struct {
	Interface string // wlan0
	Hotspot   string // connection name of the access point
	Run       Runner
}

// NewNMCLI returns an NMCLI bound to iface
func NewNMCLI(iface string) *NMCLI {
	return &NMCLI{Interface: iface, Hotspot: "relayctl-ap", Run: execRunner}
}

func (n *NMCLI) run(ctx context.Context, args ...string) (string, error) {
	out, err := n.Run(ctx, "nmcli", args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return "", fmt.Errorf("nmcli %s: %w", args[0], err)
		}
		return "", fmt.Errorf("nmcli %s: %s: %w", args[0], msg, err)
	}
	return string(bytes.TrimSpace(out)), nil
}

// Associate joins the station network
func (n *NMCLI) Associate(ctx context.Context, creds Credentials) error {
	if creds.SSID == "" {
		return ErrNoNetwork
	}
	args := []string{}
	if deadline, ok := ctx.Deadline(); ok {
		secs := int(time.Until(deadline).Seconds())
		if secs < 1 {
			secs = 1
		}
		args = append(args, "--wait", strconv.Itoa(secs))
	}
	args = append(args, "device", "wifi", "connect", creds.SSID)
	if creds.Password != "" {
		args = append(args, "password", creds.Password)
	}
	args = append(args, "ifname", n.Interface)

	_, err := n.run(ctx, args...)
	return err
}

// StartAccessPoint creates the hotspot connection and pins its address
func (n *NMCLI) StartAccessPoint(ctx context.Context, ap AccessPoint) error {
	if _, err := n.run(ctx, "device", "wifi", "hotspot",
		"ifname", n.Interface, "con-name", n.Hotspot,
		"ssid", ap.SSID, "password", ap.Password); err != nil {
		return err
	}
	if ap.Address == "" {
		return nil
	}
	if _, err := n.run(ctx, "connection", "modify", n.Hotspot,
		"ipv4.method", "shared", "ipv4.addresses", ap.Address); err != nil {
		return err
	}
	_, err := n.run(ctx, "connection", "up", n.Hotspot)
	return err
}

// Address reads the interface's IPv4 address
func (n *NMCLI) Address(ctx context.Context) (net.IP, error) {
	out, err := n.run(ctx, "-g", "IP4.ADDRESS", "device", "show", n.Interface)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Multiple addresses are separated by " | "
		first, _, _ := strings.Cut(line, " | ")
		ip, _, err := net.ParseCIDR(first)
		if err != nil {
			return nil, fmt.Errorf("unexpected address %q: %w", first, err)
		}
		return ip.To4(), nil
	}
	return nil, fmt.Errorf("no IPv4 address on %s", n.Interface)
}
