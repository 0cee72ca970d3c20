package hetzner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	netwait "github.com/antelman107/net-wait-go/wait"
	"github.com/google/uuid"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/rs/zerolog"

	"github.com/mgruener/proxybatch/pkg/ipify"
	"github.com/mgruener/proxybatch/pkg/proxyfleet"
	"github.com/mgruener/proxybatch/pkg/proxylist"
)

const ownerLabel = "owner=proxybatch"

type Options struct {
	Credentials proxyfleet.Credentials
	Image       string
	// SSHKeyName selects the SSH key by name; empty uses the newest key.
	SSHKeyName string
	Logger     zerolog.Logger
}

type hcloudProxyFleet struct {
	client    *hcloud.Client
	waiter    *netwait.Executor
	opts      Options
	locations map[string]int
}

func New(opts Options, hcloudOptions ...hcloud.ClientOption) proxyfleet.ProxyFleet {
	client := hcloud.NewClient(hcloudOptions...)
	return &hcloudProxyFleet{
		client:    client,
		waiter:    netwait.New(netwait.WithDeadline(10*time.Minute), netwait.WithWait(1*time.Second), netwait.WithBreak(1*time.Second)),
		opts:      opts,
		locations: map[string]int{},
	}
}

// EnsureProxies ensures there are at least <min> and at max <max>
// proxy instances available. If not enough proxy instances are
// available, it calls SpawnProxies to the missing amount. If there
// are too many proxy instances running it calls DespawnProxies to
// remove the excess proxy instances.
//
// Returns the activ proxy instances, at least <min> but at max <max>.
func (hcpf *hcloudProxyFleet) EnsureProxies(min uint, max uint) ([]proxylist.Record, error) {
	servers, err := hcpf.getProxies()
	if err != nil {
		return nil, err
	}
	serverCount := uint(len(servers))
	if serverCount > max {
		return hcpf.DespawnProxies(int(serverCount - max))
	}

	ips := serverIPs(servers)
	hcpf.waitForProxies(ips)
	records := hcpf.opts.Credentials.Records(ips)
	if serverCount < min {
		spawned, err := hcpf.SpawnProxies(min - serverCount)
		records = append(records, spawned...)
		if err != nil {
			return records, err
		}
	}
	return records, nil
}

// GetProxies returns <count> proxy instances, all of them for a negative count.
func (hcpf *hcloudProxyFleet) GetProxies(count int) ([]proxylist.Record, error) {
	if count == 0 {
		return []proxylist.Record{}, nil
	}

	servers, err := hcpf.getProxies()
	if err != nil {
		return nil, err
	}

	if count > 0 && count < len(servers) {
		servers = servers[:count]
	}

	ips := serverIPs(servers)
	hcpf.waitForProxies(ips)
	return hcpf.opts.Credentials.Records(ips), nil
}

// SpawnProxies creates <count> proxy instances that only accept
// connections from this host. Returns the newly created proxies.
func (hcpf *hcloudProxyFleet) SpawnProxies(count uint) ([]proxylist.Record, error) {
	ctx := context.Background()
	myip, err := ipify.MyIP(ctx)
	if err != nil {
		return []proxylist.Record{}, err
	}
	userData, err := renderUserData(hcpf.opts.Image, myip, hcpf.opts.Credentials)
	if err != nil {
		return []proxylist.Record{}, err
	}

	ips := make([]string, 0, count)
	for i := uint(0); i < count; i++ {
		name := "proxy-" + uuid.New().String()
		location, err := hcpf.getLocation(ctx)
		if err != nil {
			return hcpf.opts.Credentials.Records(ips), err
		}
		serverType, err := hcpf.getServerType(ctx, location)
		if err != nil {
			return hcpf.opts.Credentials.Records(ips), err
		}
		image, err := hcpf.getImage(ctx, serverType.Architecture)
		if err != nil {
			return hcpf.opts.Credentials.Records(ips), err
		}
		sshKey, err := hcpf.getSSHKey(ctx)
		if err != nil {
			return hcpf.opts.Credentials.Records(ips), err
		}
		startAfterCreate := true

		opts := hcloud.ServerCreateOpts{
			Image: image,
			Labels: map[string]string{
				"owner": "proxybatch",
			},
			Location: location,
			Name:     name,
			PublicNet: &hcloud.ServerCreatePublicNet{
				EnableIPv4: true,
				EnableIPv6: false,
			},
			ServerType:       serverType,
			SSHKeys:          []*hcloud.SSHKey{sshKey},
			StartAfterCreate: &startAfterCreate,
			UserData:         userData,
		}
		result, _, err := hcpf.client.Server.Create(ctx, opts)
		if err != nil {
			return hcpf.opts.Credentials.Records(ips), err
		}
		ips = append(ips, result.Server.PublicNet.IPv4.IP.String())
		hcpf.locations[location.Name]++
		hcpf.opts.Logger.Info().Str("server", name).Str("location", location.Name).Msg("Spawned proxy server")
	}
	hcpf.waitForProxies(ips)
	return hcpf.opts.Credentials.Records(ips), nil
}

// DespawnProxies removes <count> proxy instances. Specifying a count of -1
// removes all proxies. Returns the remaining proxies.
func (hcpf *hcloudProxyFleet) DespawnProxies(count int) ([]proxylist.Record, error) {
	ctx := context.Background()
	servers, err := hcpf.getProxies()
	if err != nil {
		return nil, err
	}

	serverCount := len(servers)
	if serverCount == 0 {
		return []proxylist.Record{}, nil
	}

	removeCount := count
	if (count < 0) || (count > serverCount) {
		removeCount = serverCount
	}

	hcpf.opts.Logger.Info().Int("count", removeCount).Msg("Removing proxy servers")
	remaining := hcpf.opts.Credentials.Records(serverIPs(servers[removeCount:]))

	for _, server := range servers[:removeCount] {
		_, _, err := hcpf.client.Server.DeleteWithResult(ctx, server)
		if err != nil {
			return remaining, err
		}
	}

	return remaining, nil
}

func (hcpf *hcloudProxyFleet) waitForProxies(ips []string) {
	if len(ips) == 0 {
		return
	}
	port := strconv.Itoa(hcpf.opts.Credentials.Port)
	ipPort := make([]string, len(ips))
	for i, ip := range ips {
		ipPort[i] = ip + ":" + port
	}
	if !hcpf.waiter.Do(ipPort) {
		hcpf.opts.Logger.Warn().Strs("proxies", ipPort).Msg("Not all proxies became reachable")
	}
}

func serverIPs(servers []*hcloud.Server) []string {
	ips := make([]string, len(servers))
	for i, server := range servers {
		ips[i] = server.PublicNet.IPv4.IP.String()
	}
	return ips
}

func (hcpf *hcloudProxyFleet) getProxies() ([]*hcloud.Server, error) {
	ctx := context.Background()
	opts := hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: ownerLabel},
	}
	servers, _, err := hcpf.client.Server.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	hcpf.locations = map[string]int{}
	for _, server := range servers {
		hcpf.locations[server.Datacenter.Location.Name]++
	}
	return servers, nil
}

func (hcpf *hcloudProxyFleet) getImage(ctx context.Context, arch hcloud.Architecture) (*hcloud.Image, error) {
	image, _, err := hcpf.client.Image.GetByNameAndArchitecture(ctx, hcpf.opts.Image, arch)
	if err != nil {
		return image, err
	}
	if image == nil {
		return nil, fmt.Errorf("image '%s' not found for %s", hcpf.opts.Image, arch)
	}

	return image, nil
}

func (hcpf *hcloudProxyFleet) getLocation(ctx context.Context) (*hcloud.Location, error) {
	var candidate *hcloud.Location
	locations, err := hcpf.client.Location.All(ctx)
	if err != nil {
		return nil, err
	}

	// select the location with the smallest amount of proxy instances
	minUsage := 0
	for _, location := range locations {
		currentUsage, ok := hcpf.locations[location.Name]
		// if we currently know of no proxy on this location
		// it is by definiton the least used, so we use it
		// for the next proxy
		if !ok {
			return location, nil
		}
		if (minUsage == 0) || (minUsage > currentUsage) {
			minUsage = currentUsage
			candidate = location
		}
	}

	return candidate, nil
}

func (hcpf *hcloudProxyFleet) getServerType(ctx context.Context, location *hcloud.Location) (*hcloud.ServerType, error) {
	var candidate *hcloud.ServerType

	serverTypes, err := hcpf.client.ServerType.All(ctx)
	if err != nil {
		return nil, err
	}

	var minCurrency string
	var minPrice float64 = 0
	for _, serverType := range serverTypes {
		if serverType.Architecture == "arm" {
			// exclude arm for now as it is not available
			// in the US and Hetzner does not seem to provide
			// a reliable way to detect which serverType is
			// available where
			continue
		}
		var netPrice float64
		var netCurrency string
		found := false
		for _, pricing := range serverType.Pricings {
			if pricing.Location.Name == location.Name {
				netPrice, err = strconv.ParseFloat(pricing.Hourly.Net, 64)
				if err != nil {
					continue
				}
				netCurrency = pricing.Hourly.Currency
				found = true
				break
			}
		}
		// the serverType is not available at the chosen location
		if !found {
			continue
		}

		// Hetzner bills everywhere in euro, but warn if that ever changes
		// since prices of different currencies are compared below.
		if (minCurrency != "") && (minCurrency != netCurrency) {
			hcpf.opts.Logger.Warn().Str("server_type", serverType.Name).Msgf("currency conflict: %s != %s", minCurrency, netCurrency)
		}
		if (minPrice == 0) || (minPrice > netPrice) {
			minPrice = netPrice
			candidate = serverType
			minCurrency = netCurrency
		}
	}
	if candidate == nil {
		return nil, fmt.Errorf("no server type available at location '%s'", location.Name)
	}

	hcpf.opts.Logger.Info().
		Str("server_type", candidate.Name).
		Str("location", location.Name).
		Str("country", location.Country).
		Msgf("Using server type for a price of %f %s", minPrice, minCurrency)
	return candidate, nil
}

func (hcpf *hcloudProxyFleet) getSSHKey(ctx context.Context) (*hcloud.SSHKey, error) {
	if hcpf.opts.SSHKeyName != "" {
		sshKey, _, err := hcpf.client.SSHKey.GetByName(ctx, hcpf.opts.SSHKeyName)
		if err != nil {
			return nil, err
		}
		if sshKey == nil {
			return nil, fmt.Errorf("SSH key '%s' not found", hcpf.opts.SSHKeyName)
		}
		return sshKey, nil
	}

	// no SSH key name was specified, just use the newest key
	// available, assuming this is most likely one that is still valid
	sshKeys, err := hcpf.client.SSHKey.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(sshKeys) > 0 {
		sort.Slice(sshKeys, func(i, j int) bool {
			return sshKeys[i].Created.After(sshKeys[j].Created)
		})
		return sshKeys[0], nil
	}

	return nil, fmt.Errorf("no SSH key found")
}
