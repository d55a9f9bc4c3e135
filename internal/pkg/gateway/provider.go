package gateway

import "strings"

// Provider identifies a payment gateway. The set is closed: adding a
// provider means adding an Adapter implementation and registering it in
// NewRegistry.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderPaystack    Provider = "paystack"
	ProviderFlutterwave Provider = "flutterwave"
)

// AllProviders returns every supported provider.
func AllProviders() []Provider {
	return []Provider{ProviderStripe, ProviderPaystack, ProviderFlutterwave}
}

// ParseProvider maps a request-supplied provider name onto the closed set.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderStripe:
		return ProviderStripe, nil
	case ProviderPaystack:
		return ProviderPaystack, nil
	case ProviderFlutterwave:
		return ProviderFlutterwave, nil
	default:
		return "", ErrUnsupportedGateway
	}
}
