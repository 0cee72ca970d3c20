// Package proxyfleet provisions the HTTP proxies that the batch runner
// checks.
package proxyfleet

import "github.com/mgruener/proxybatch/pkg/proxylist"

type ProxyFleet interface {
	EnsureProxies(min uint, max uint) ([]proxylist.Record, error)
	SpawnProxies(count uint) ([]proxylist.Record, error)
	GetProxies(count int) ([]proxylist.Record, error)
	DespawnProxies(count int) ([]proxylist.Record, error)
}

// Credentials configure the basic auth and port every fleet proxy listens with.
type Credentials struct {
	Username string
	Password string
	Port     int
}

// Records turns proxy IPs into proxy list records.
func (c Credentials) Records(ips []string) []proxylist.Record {
	records := make([]proxylist.Record, len(ips))
	for i, ip := range ips {
		records[i] = proxylist.NewRecord(c.Username, c.Password, ip, c.Port)
	}
	return records
}
