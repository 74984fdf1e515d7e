package encstream

import "sync/atomic"

// Provider identifies a codec implementation.
type Provider uint8

const (
	ProviderAuto   Provider = iota // Let library choose best available
	ProviderFDKAAC                 // Fraunhofer FDK AAC encoder
	ProviderX264                   // GPL H.264 encoder
	providerCount
)

// License represents the software license of a provider.
type License uint8

const (
	LicenseGPL License = iota // Copyleft - requires source disclosure
	LicenseBSD                // Permissive - no copyleft obligations
	LicenseFDK                // Fraunhofer FDK license, no copyleft
)

// Permissive returns true if the license has no copyleft obligations.
func (l License) Permissive() bool { return l != LicenseGPL }

func (l License) String() string {
	switch l {
	case LicenseGPL:
		return "GPL"
	case LicenseBSD:
		return "BSD"
	case LicenseFDK:
		return "FDK"
	default:
		return "unknown"
	}
}

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name    string
	License License
	Codec   string
}

var providerInfo = [providerCount]providerMeta{
	ProviderAuto:   {"auto", LicenseBSD, ""},
	ProviderFDKAAC: {"fdk-aac", LicenseFDK, "AAC"},
	ProviderX264:   {"x264", LicenseGPL, "H264"},
}

// Runtime availability - set by init() in provider implementations.
var providerAvailable [providerCount]atomic.Bool

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// License returns the provider's license type.
func (p Provider) License() License {
	if p >= providerCount {
		return LicenseGPL
	}
	return providerInfo[p].License
}

// Codec returns the codec the provider encodes, empty for ProviderAuto.
func (p Provider) Codec() string {
	if p >= providerCount {
		return ""
	}
	return providerInfo[p].Codec
}

// Available returns true if the provider is usable at runtime.
func (p Provider) Available() bool {
	if p >= providerCount {
		return false
	}
	return providerAvailable[p].Load()
}

// ParseProvider maps a provider name (as printed by String) to a Provider.
func ParseProvider(name string) (Provider, bool) {
	if name == "" {
		return ProviderAuto, true
	}
	for p := Provider(0); p < providerCount; p++ {
		if providerInfo[p].Name == name {
			return p, true
		}
	}
	return ProviderAuto, false
}

func setProviderAvailable(p Provider) {
	if p < providerCount {
		providerAvailable[p].Store(true)
	}
}
