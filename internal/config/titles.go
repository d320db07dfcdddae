package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Title describes one archival unit to register.
type Title struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

// TitleList is the decoded title list file. The titles key accepts either
// a sequence of {id, name, base_url} objects or a mapping of id to base URL:
//
//	titles:
//	  journal-2024: http://journal.example.com/2024/
//	  journal-2025:
//	    name: Journal 2025
//	    base_url: http://journal.example.com/2025/
type TitleList struct {
	Titles Titles `yaml:"titles"`
}

// Titles decodes either the sequence or mapping form.
type Titles []Title

func (t *Titles) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		items := make([]Title, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k := value.Content[i]
			v := value.Content[i+1]
			id := strings.TrimSpace(k.Value)
			if id == "" {
				continue
			}
			switch v.Kind {
			case yaml.ScalarNode:
				items = append(items, Title{ID: id, Name: id, BaseURL: strings.TrimSpace(v.Value)})
			case yaml.MappingNode:
				var tmp struct {
					Name    string `yaml:"name"`
					BaseURL string `yaml:"base_url"`
				}
				if err := v.Decode(&tmp); err != nil {
					return err
				}
				name := strings.TrimSpace(tmp.Name)
				if name == "" {
					name = id
				}
				items = append(items, Title{ID: id, Name: name, BaseURL: strings.TrimSpace(tmp.BaseURL)})
			default:
				return fmt.Errorf("line %d: title %q must be a URL or a mapping", v.Line, id)
			}
		}
		*t = items
		return nil
	case yaml.SequenceNode:
		var items []Title
		if err := value.Decode(&items); err != nil {
			return err
		}
		*t = items
		return nil
	default:
		return fmt.Errorf("line %d: titles must be a sequence or a mapping", value.Line)
	}
}

// LoadTitles reads a YAML title list and checks that every entry has an
// id and a base URL.
func LoadTitles(path string) ([]Title, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading title list: %w", err)
	}
	return ParseTitles(b)
}

// ParseTitles decodes a YAML title list.
func ParseTitles(data []byte) ([]Title, error) {
	var list TitleList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decoding title list: %w", err)
	}
	seen := make(map[string]bool, len(list.Titles))
	for i, title := range list.Titles {
		if title.ID == "" {
			return nil, fmt.Errorf("title %d has no id", i)
		}
		if title.BaseURL == "" {
			return nil, fmt.Errorf("title %s has no base_url", title.ID)
		}
		if seen[title.ID] {
			return nil, fmt.Errorf("duplicate title id %s", title.ID)
		}
		seen[title.ID] = true
	}
	return list.Titles, nil
}
