// Package openapi embeds the HTTP API description for runtime distribution.
package openapi

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the embedded OpenAPI YAML.
//
//go:embed cellvault.yaml
var Document []byte

// YAML returns a copy of the embedded OpenAPI YAML.
func YAML() []byte {
	return append([]byte(nil), Document...)
}

// Operations lists every documented "METHOD /path" pair, sorted.
func Operations() ([]string, error) {
	var doc struct {
		Paths map[string]map[string]yaml.Node `yaml:"paths"`
	}
	if err := yaml.Unmarshal(Document, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi: %w", err)
	}
	var ops []string
	for p, methods := range doc.Paths {
		for m := range methods {
			ops = append(ops, fmt.Sprintf("%s %s", strings.ToUpper(m), p))
		}
	}
	sort.Strings(ops)
	return ops, nil
}
