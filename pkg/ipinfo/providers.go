package ipinfo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Provider knows how to decode one public-IP endpoint's response shape
// into the normalized Info. Provider order is fixed configuration; the
// fetcher tries them in sequence and stops at the first valid answer.
type Provider struct {
	// Name identifies the provider in results and logs.
	Name string

	// URL is the JSON endpoint, queried with a plain GET.
	URL string

	// Decode maps the provider-specific payload into Info. It must
	// reject structurally unusable payloads (no IP) with an error.
	Decode func(body []byte) (*Info, error)
}

// DefaultProviders returns the built-in priority-ordered provider list.
func DefaultProviders() []Provider {
	return []Provider{
		{Name: "ipinfo.io", URL: "https://ipinfo.io/json", Decode: decodeIPInfo},
		{Name: "ipapi.co", URL: "https://ipapi.co/json", Decode: decodeIPAPI},
		{Name: "ifconfig.co", URL: "https://ifconfig.co/json", Decode: decodeIfconfig},
	}
}

// ProvidersByName filters the built-in list to the given names,
// preserving the requested order. Unknown names are an error so a
// config typo cannot silently shrink the fallback chain.
func ProvidersByName(names []string) ([]Provider, error) {
	known := make(map[string]Provider)
	for _, p := range DefaultProviders() {
		known[p.Name] = p
	}
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		p, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown IP info provider %q", name)
		}
		out = append(out, p)
	}
	return out, nil
}

// ipinfo.io: {"ip": "...", "org": "AS15169 Google LLC", "city": ...}
type ipinfoPayload struct {
	IP      string `json:"ip"`
	Org     string `json:"org"`
	ASN     string `json:"asn"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Loc     string `json:"loc"`
}

func decodeIPInfo(body []byte) (*Info, error) {
	var p ipinfoPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	if p.IP == "" {
		return nil, fmt.Errorf("ipinfo.io response has no ip field")
	}
	asn := normalizeASN(p.ASN)
	if asn == "" && p.Org != "" {
		// ipinfo.io folds the ASN into the org string ("AS15169 Google LLC").
		first, _, _ := strings.Cut(p.Org, " ")
		if norm := normalizeASN(first); strings.HasPrefix(norm, "AS") {
			asn = norm
		}
	}
	return &Info{
		IP:      p.IP,
		Org:     p.Org,
		ASN:     asn,
		City:    p.City,
		Region:  p.Region,
		Country: p.Country,
		Loc:     p.Loc,
	}, nil
}

// ipapi.co: {"ip": "...", "org": "...", "asn": "AS15169", "latitude": ...}
type ipapiPayload struct {
	IP        string   `json:"ip"`
	Org       string   `json:"org"`
	OrgName   string   `json:"org_name"`
	ASN       string   `json:"asn"`
	City      string   `json:"city"`
	Region    string   `json:"region"`
	Country   string   `json:"country"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func decodeIPAPI(body []byte) (*Info, error) {
	var p ipapiPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	if p.IP == "" {
		return nil, fmt.Errorf("ipapi.co response has no ip field")
	}
	org := p.Org
	if org == "" {
		org = p.OrgName
	}
	return &Info{
		IP:      p.IP,
		Org:     org,
		ASN:     normalizeASN(p.ASN),
		City:    p.City,
		Region:  p.Region,
		Country: p.Country,
		Loc:     formatLoc(p.Latitude, p.Longitude),
	}, nil
}

// ifconfig.co: {"ip": "...", "asn": "AS15169", "asn_org": ..., "region_name": ...}
type ifconfigPayload struct {
	IP         string   `json:"ip"`
	ASN        string   `json:"asn"`
	ASNOrg     string   `json:"asn_org"`
	Org        string   `json:"org"`
	City       string   `json:"city"`
	Region     string   `json:"region"`
	RegionName string   `json:"region_name"`
	Country    string   `json:"country"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

func decodeIfconfig(body []byte) (*Info, error) {
	var p ifconfigPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	if p.IP == "" {
		return nil, fmt.Errorf("ifconfig.co response has no ip field")
	}
	org := p.ASNOrg
	if org == "" {
		org = p.Org
	}
	region := p.RegionName
	if region == "" {
		region = p.Region
	}
	return &Info{
		IP:      p.IP,
		Org:     org,
		ASN:     normalizeASN(p.ASN),
		City:    p.City,
		Region:  region,
		Country: p.Country,
		Loc:     formatLoc(p.Latitude, p.Longitude),
	}, nil
}

// normalizeASN canonicalizes ASN strings to the "AS<number>" form.
// Bare digits get the prefix; anything unrecognized passes through.
func normalizeASN(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if strings.HasPrefix(v, "AS") {
		num, _, _ := strings.Cut(v[2:], " ")
		if isDigits(num) {
			return "AS" + num
		}
		return v
	}
	if isDigits(v) {
		return "AS" + v
	}
	return v
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func formatLoc(lat, lon *float64) string {
	if lat == nil || lon == nil {
		return ""
	}
	return fmt.Sprintf("%g,%g", *lat, *lon)
}
