package harvest

import "fmt"

// Endpoint is the static description of one recognized PNCP consultation
// endpoint: its URL path and which filter dimensions it paginates over.
// The catalog is read-only configuration consumed by the plan generator
// and the source client.
type Endpoint struct {
	Name               string `json:"name" mapstructure:"name"`
	Path               string `json:"path" mapstructure:"path"`
	SupportsModalidade bool   `json:"supports_modalidade" mapstructure:"supports_modalidade"`
	MaxPageSize        int    `json:"max_page_size" mapstructure:"max_page_size"`
}

// DefaultEndpoints returns the built-in catalog of PNCP endpoints. Only the
// contracting endpoints take the modality dimension; minutes and contracts
// paginate over date alone.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "contratacoes-publicacao", Path: "/v1/contratacoes/publicacao", SupportsModalidade: true, MaxPageSize: 50},
		{Name: "contratacoes-atualizacao", Path: "/v1/contratacoes/atualizacao", SupportsModalidade: true, MaxPageSize: 50},
		{Name: "atas", Path: "/v1/atas", SupportsModalidade: false, MaxPageSize: 500},
		{Name: "contratos", Path: "/v1/contratos", SupportsModalidade: false, MaxPageSize: 500},
	}
}

// Catalog indexes endpoints by name.
type Catalog map[string]Endpoint

// NewCatalog builds a Catalog from a list of endpoints.
func NewCatalog(endpoints []Endpoint) Catalog {
	c := make(Catalog, len(endpoints))
	for _, e := range endpoints {
		c[e.Name] = e
	}
	return c
}

// Lookup returns the endpoint for the given name.
func (c Catalog) Lookup(name string) (Endpoint, error) {
	e, ok := c[name]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: unknown endpoint %q", ErrInvalidConfiguration, name)
	}
	return e, nil
}
