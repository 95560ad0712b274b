// Package discovery advertises the simulator over mDNS and finds it again
// from the client.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/enbility/zeroconf/v3"
)

const (
	// ServiceType is the DNS-SD service the simulator registers.
	ServiceType = "_coffee._tcp"
	// Domain is the mDNS domain.
	Domain = "local."
)

// ErrNotFound is returned by Find when no simulator answered.
var ErrNotFound = errors.New("discovery: no coffee machine found")

// Info describes an advertised simulator.
type Info struct {
	Instance string
	Port     int
	Path     string   // websocket path, e.g. /ws
	Codecs   []string // codec names accepted in ?format=
	Version  string
}

// Service is a simulator found on the network.
type Service struct {
	Info
	Host      string
	Addresses []string
}

// URL returns the websocket URL of the first address.
func (s Service) URL(codec string) string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	u := "ws://" + net.JoinHostPort(strings.TrimSuffix(host, "."), strconv.Itoa(s.Port)) + s.Path
	if codec != "" {
		u += "?format=" + codec
	}
	return u
}

// Advertiser owns a registered mDNS service.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers info on all interfaces.
func Advertise(info Info) (*Advertiser, error) {
	if info.Port <= 0 {
		return nil, fmt.Errorf("discovery: invalid port %d", info.Port)
	}
	server, err := zeroconf.Register(info.Instance, ServiceType, Domain, info.Port, encodeTXT(info), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", ServiceType, err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the service. Safe on a nil Advertiser.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
}

// Find browses until the first simulator answers or ctx is done.
func Find(ctx context.Context) (Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Service{}, ErrNotFound
			}
			if svc, ok := entryToService(entry); ok {
				return svc, nil
			}
		case <-removed:
		case <-ctx.Done():
			return Service{}, ErrNotFound
		}
	}
}

func entryToService(entry *zeroconf.ServiceEntry) (Service, bool) {
	if entry == nil || entry.Port == 0 {
		return Service{}, false
	}
	info := decodeTXT(entry.Text)
	info.Instance = entry.Instance
	info.Port = entry.Port

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return Service{Info: info, Host: entry.HostName, Addresses: addrs}, true
}

func encodeTXT(info Info) []string {
	txt := []string{"path=" + info.Path}
	if len(info.Codecs) > 0 {
		codecs := append([]string(nil), info.Codecs...)
		sort.Strings(codecs)
		txt = append(txt, "codecs="+strings.Join(codecs, ","))
	}
	if info.Version != "" {
		txt = append(txt, "version="+info.Version)
	}
	return txt
}

func decodeTXT(txt []string) Info {
	info := Info{Path: "/ws"}
	for _, kv := range txt {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "path":
			if v != "" {
				info.Path = v
			}
		case "codecs":
			if v != "" {
				info.Codecs = strings.Split(v, ",")
			}
		case "version":
			info.Version = v
		}
	}
	return info
}
