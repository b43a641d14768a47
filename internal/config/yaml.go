package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so both formats go through
// the same strict decoder. Anchors, aliases and "<<" merge keys are resolved.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc.Kind == 0 {
		return []byte("{}"), nil
	}
	v, err := nodeValue(&doc, "")
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml: re-encode: %w", err)
	}
	return out, nil
}

func nodeValue(n *yaml.Node, at string) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return map[string]any{}, nil
		}
		return nodeValue(n.Content[0], at)
	case yaml.AliasNode:
		return nodeValue(n.Alias, at)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for i, c := range n.Content {
			v, err := nodeValue(c, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		if err := mergeMapping(out, n, at); err != nil {
			return nil, err
		}
		return out, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("yaml line %d (%s): %w", n.Line, at, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("yaml line %d (%s): unsupported node", n.Line, at)
}

// mergeMapping copies the pairs of n into out. Explicit keys win over keys
// pulled in through "<<".
func mergeMapping(out map[string]any, n *yaml.Node, at string) error {
	var merges []*yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return fmt.Errorf("yaml line %d (%s): mapping keys must be scalars", k.Line, at)
		}
		if isMergeKey(k) {
			merges = append(merges, v)
			continue
		}
		child := k.Value
		if at != "" {
			child = at + "." + k.Value
		}
		val, err := nodeValue(v, child)
		if err != nil {
			return err
		}
		out[k.Value] = val
	}
	for _, m := range merges {
		if m.Kind == yaml.AliasNode {
			m = m.Alias
		}
		srcs := []*yaml.Node{m}
		if m.Kind == yaml.SequenceNode {
			srcs = m.Content
		}
		for _, src := range srcs {
			if src.Kind == yaml.AliasNode {
				src = src.Alias
			}
			if src.Kind != yaml.MappingNode {
				return fmt.Errorf("yaml line %d (%s): << expects a mapping", src.Line, at)
			}
			extra := map[string]any{}
			if err := mergeMapping(extra, src, at); err != nil {
				return err
			}
			for k, v := range extra {
				if _, ok := out[k]; !ok {
					out[k] = v
				}
			}
		}
	}
	return nil
}

func isMergeKey(k *yaml.Node) bool {
	if k.Value != "<<" {
		return false
	}
	return k.Tag == "!!merge" || (k.Tag == "" && k.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) == 0)
}
