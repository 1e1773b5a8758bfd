package grouping

import (
	"encoding/json"
	"fmt"

	"github.com/fbas-tools/analyzer/internal/fbas"
)

type (
	rawOrganization struct {
		ID         string   `json:"id"`
		Name       string   `json:"name"`
		Validators []string `json:"validators"`
	}

	rawNodeInfo struct {
		PublicKey string `json:"publicKey"`
		ISP       string `json:"isp"`
		GeoData   *struct {
			CountryName string `json:"countryName"`
		} `json:"geoData"`
	}
)

// OrganizationsFrom groups nodes by the organizations listed in description
// (stellarbeat.io organizations JSON). Validators unknown to f are ignored.
func OrganizationsFrom(description []byte, f *fbas.Fbas) (*Grouping, error) {
	var orgs []rawOrganization
	if err := json.Unmarshal(description, &orgs); err != nil {
		return nil, fmt.Errorf("%w: organizations: %v", ErrInvalidDescription, err)
	}
	b := newBuilder(f)
	for _, org := range orgs {
		key, name := org.ID, org.Name
		if key == "" {
			key = name
		}
		if name == "" {
			name = key
		}
		for _, pk := range org.Validators {
			b.add(key, name, pk)
		}
	}
	return b.build(), nil
}

// ISPsFrom groups nodes by the "isp" field of the node list in description.
func ISPsFrom(description []byte, f *fbas.Fbas) (*Grouping, error) {
	nodes, err := parseNodeInfo(description)
	if err != nil {
		return nil, err
	}
	b := newBuilder(f)
	for _, n := range nodes {
		b.add(n.ISP, n.ISP, n.PublicKey)
	}
	return b.build(), nil
}

// CountriesFrom groups nodes by the "geoData.countryName" field of the node list in description.
func CountriesFrom(description []byte, f *fbas.Fbas) (*Grouping, error) {
	nodes, err := parseNodeInfo(description)
	if err != nil {
		return nil, err
	}
	b := newBuilder(f)
	for _, n := range nodes {
		if n.GeoData != nil {
			b.add(n.GeoData.CountryName, n.GeoData.CountryName, n.PublicKey)
		}
	}
	return b.build(), nil
}

func parseNodeInfo(description []byte) ([]rawNodeInfo, error) {
	var nodes []rawNodeInfo
	if err := json.Unmarshal(description, &nodes); err != nil {
		return nil, fmt.Errorf("%w: nodes: %v", ErrInvalidDescription, err)
	}
	return nodes, nil
}
