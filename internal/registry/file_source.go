package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource reads the registry from a YAML file:
//
//	parties:
//	  - country_code: DE
//	    party_id: ABC
//	    party_address: "0x..."
//	    operator_address: "0x..."
//	    node_url: https://node.example.com
type FileSource struct {
	Path string
}

type registryDocument struct {
	Parties []Party `json:"parties" yaml:"parties"`
}

func (f FileSource) Fetch(context.Context) ([]Party, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	var doc registryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry file: %w", err)
	}
	return doc.Parties, nil
}
