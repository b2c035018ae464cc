// Package provider holds the adapter factory and shared upstream error
// classification for the per-provider protocol packages.
package provider

import (
	"fmt"
	"net/http"

	"github.com/mamanambiya/federated-imputation/internal/provider/dnastack"
	"github.com/mamanambiya/federated-imputation/internal/provider/ga4gh"
	"github.com/mamanambiya/federated-imputation/internal/provider/michigan"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// Factory hands out the adapter for a service's api_type. Constructed once
// at startup; adapters share one HTTP client and rely on per-call context
// deadlines rather than a client-wide timeout, because submissions can
// legitimately run for minutes while status checks must stay short.
type Factory struct {
	adapters map[string]models.ProviderAdapter
}

// NewFactory builds the adapter lookup table.
func NewFactory(client *http.Client) *Factory {
	if client == nil {
		client = &http.Client{}
	}
	return &Factory{
		adapters: map[string]models.ProviderAdapter{
			models.APITypeMichigan: michigan.NewAdapter(client),
			models.APITypeGA4GH:    ga4gh.NewAdapter(client),
			models.APITypeDNASTACK: dnastack.NewAdapter(client),
		},
	}
}

// ForType returns the adapter registered for apiType.
func (f *Factory) ForType(apiType string) (models.ProviderAdapter, error) {
	a, ok := f.adapters[apiType]
	if !ok {
		return nil, fmt.Errorf("unknown api_type %q: must be one of michigan, ga4gh, dnastack", apiType)
	}
	return a, nil
}
