package endpoints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/brojonat/txinspector/service/settings"
	"gopkg.in/yaml.v3"
)

// StorageKey is the settings key holding the user's selected RPC URL.
const StorageKey = "solana-rpc-endpoint"

// Network tags the cluster an endpoint serves.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkDevnet  Network = "devnet"
	NetworkTestnet Network = "testnet"
	NetworkCustom  Network = "custom"
)

// Endpoint describes a selectable RPC endpoint.
type Endpoint struct {
	URL     string  `json:"endpoint" yaml:"url"`
	Name    string  `json:"name" yaml:"name"`
	Network Network `json:"network" yaml:"network"`
}

// Defaults are the endpoints offered out of the box. The first one is used
// when nothing has been persisted.
var Defaults = []Endpoint{
	{URL: "https://api.mainnet-beta.solana.com", Name: "Solana Mainnet (Official)", Network: NetworkMainnet},
	{URL: "https://solana-mainnet.g.alchemy.com/v2/demo", Name: "Alchemy Mainnet", Network: NetworkMainnet},
	{URL: "https://rpc.ankr.com/solana", Name: "Ankr Mainnet", Network: NetworkMainnet},
	{URL: "https://api.devnet.solana.com", Name: "Solana Devnet", Network: NetworkDevnet},
	{URL: "https://api.testnet.solana.com", Name: "Solana Testnet", Network: NetworkTestnet},
}

// ErrInvalidCustomEndpoint is returned when a custom URL is blank or not https.
var ErrInvalidCustomEndpoint = errors.New("custom RPC endpoint must start with https://")

// Registry resolves the active RPC endpoint from the known list and the persisted override.
type Registry struct {
	store  settings.Store
	known  []Endpoint
	logger *slog.Logger
}

// NewRegistry creates a registry over Defaults plus any extra known endpoints.
// Extra endpoints whose URL duplicates a default are ignored.
func NewRegistry(store settings.Store, extra []Endpoint, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	known := make([]Endpoint, 0, len(Defaults)+len(extra))
	seen := make(map[string]struct{})
	for _, e := range append(append([]Endpoint{}, Defaults...), extra...) {
		if _, dup := seen[e.URL]; dup {
			continue
		}
		seen[e.URL] = struct{}{}
		known = append(known, e)
	}
	return &Registry{store: store, known: known, logger: logger}
}

// List returns the known endpoints in display order.
func (r *Registry) List() []Endpoint {
	out := make([]Endpoint, len(r.known))
	copy(out, r.known)
	return out
}

// Default returns the endpoint used when no override is persisted.
func (r *Registry) Default() Endpoint {
	return r.known[0]
}

// Lookup describes url, falling back to a custom endpoint when it is not known.
func (r *Registry) Lookup(url string) Endpoint {
	for _, e := range r.known {
		if e.URL == url {
			return e
		}
	}
	return Endpoint{URL: url, Name: "Custom RPC", Network: NetworkCustom}
}

// NetworkFor returns the network of a known endpoint, or custom.
func (r *Registry) NetworkFor(url string) Network {
	return r.Lookup(url).Network
}

// IsKnown reports whether url is one of the known endpoints.
func (r *Registry) IsKnown(url string) bool {
	return r.Lookup(url).Network != NetworkCustom
}

// Current returns the persisted endpoint, or the default when none is stored.
func (r *Registry) Current(ctx context.Context) (Endpoint, error) {
	url, found, err := r.store.GetSetting(ctx, StorageKey)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to load selected endpoint: %w", err)
	}
	if !found || strings.TrimSpace(url) == "" {
		return r.Default(), nil
	}
	return r.Lookup(url), nil
}

// Select persists url as the active endpoint. Unknown URLs are treated as custom
// and must pass ValidateCustom.
func (r *Registry) Select(ctx context.Context, url string) (Endpoint, error) {
	url = strings.TrimSpace(url)
	if !r.IsKnown(url) {
		return r.SelectCustom(ctx, url)
	}
	if err := r.store.SetSetting(ctx, StorageKey, url); err != nil {
		return Endpoint{}, fmt.Errorf("failed to persist endpoint: %w", err)
	}
	e := r.Lookup(url)
	r.logger.InfoContext(ctx, "rpc endpoint selected", "endpoint", e.URL, "network", e.Network)
	return e, nil
}

// SelectCustom persists a user-supplied https endpoint.
func (r *Registry) SelectCustom(ctx context.Context, url string) (Endpoint, error) {
	url = strings.TrimSpace(url)
	if err := ValidateCustom(url); err != nil {
		return Endpoint{}, err
	}
	if err := r.store.SetSetting(ctx, StorageKey, url); err != nil {
		return Endpoint{}, fmt.Errorf("failed to persist endpoint: %w", err)
	}
	e := r.Lookup(url)
	r.logger.InfoContext(ctx, "custom rpc endpoint selected", "endpoint", e.URL, "network", e.Network)
	return e, nil
}

// ValidateCustom checks a custom endpoint URL.
func ValidateCustom(url string) error {
	if strings.TrimSpace(url) == "" || !strings.HasPrefix(url, "https://") || len(url) == len("https://") {
		return ErrInvalidCustomEndpoint
	}
	return nil
}

// ExplorerURL links a signature on Solscan, with a cluster hint off mainnet.
func ExplorerURL(signature string, network Network) string {
	base := "https://solscan.io/tx/" + signature
	switch network {
	case NetworkDevnet, NetworkTestnet:
		return base + "?cluster=" + string(network)
	}
	return base
}

type endpointsFile struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// LoadFile reads additional known endpoints from a YAML document of the form
//
//	endpoints:
//	  - url: https://example-rpc.com
//	    name: Example
//	    network: mainnet
func LoadFile(path string) ([]Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open endpoints file: %w", err)
	}
	defer f.Close()

	var doc endpointsFile
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode endpoints file: %w", err)
	}

	var errs []error
	for i, e := range doc.Endpoints {
		if err := ValidateCustom(e.URL); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %d: %w", i, err))
		}
		switch e.Network {
		case NetworkMainnet, NetworkDevnet, NetworkTestnet:
		default:
			errs = append(errs, fmt.Errorf("endpoint %d: invalid network %q", i, e.Network))
		}
		if e.Name == "" {
			doc.Endpoints[i].Name = e.URL
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid endpoints file: %w", errors.Join(errs...))
	}
	return doc.Endpoints, nil
}
