// Package config provides configuration types, defaults, and persistence for parley.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// MaxRecents caps how many recent experiment ids are persisted.
const MaxRecents = 10

// SaveRecents updates the recents list in the config file.
// This preserves comments and formatting in other sections by using yaml.Node.
func SaveRecents(configPath string, recents []string) error {
	// Read existing file content
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	// Parse into yaml.Node to preserve comments
	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	recentsNode := buildRecentsNode(recents)

	// Update or create the recents section
	if doc.Kind == 0 {
		// Empty or new file - create document structure
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						{Kind: yaml.ScalarNode, Value: "recents"},
						recentsNode,
					},
				},
			},
		}
	} else if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind == yaml.MappingNode {
			// Find and replace the recents key, or append it
			found := false
			for i := 0; i < len(root.Content)-1; i += 2 {
				if root.Content[i].Value == "recents" {
					root.Content[i+1] = recentsNode
					found = true
					break
				}
			}
			if !found {
				root.Content = append(root.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: "recents"},
					recentsNode,
				)
			}
		}
	}

	// Marshal back to YAML
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	// Write atomically (write to temp, then rename)
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".parley.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(buf.Bytes()); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, configPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// PushRecent moves an experiment id to the front of the recents list,
// deduplicating and capping at MaxRecents.
func PushRecent(recents []string, experimentID string) []string {
	if experimentID == "" {
		return recents
	}
	out := []string{experimentID}
	for _, id := range recents {
		if id != experimentID {
			out = append(out, id)
		}
	}
	if len(out) > MaxRecents {
		out = out[:MaxRecents]
	}
	return out
}

// RemoveRecent drops an experiment id from the recents list, e.g. after
// the experiment was deleted.
func RemoveRecent(recents []string, experimentID string) []string {
	return slices.DeleteFunc(slices.Clone(recents), func(id string) bool {
		return id == experimentID
	})
}

// buildRecentsNode creates a yaml.Node representing the recents array.
func buildRecentsNode(recents []string) *yaml.Node {
	node := &yaml.Node{
		Kind:    yaml.SequenceNode,
		Content: make([]*yaml.Node, 0, len(recents)),
	}
	for _, id := range recents {
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: id})
	}
	return node
}
