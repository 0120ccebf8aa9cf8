package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/feedfs/pkg/feed"
	"gopkg.in/yaml.v3"
)

const fileHeader = `# feedfs configuration
#
# Every key may be overridden from the environment as FEEDFS_<SECTION>_<KEY>,
# e.g. FEEDFS_LOGGING_LEVEL=DEBUG. Send SIGHUP to a running mount to reload
# the feeds list.

`

// Render serialises cfg as YAML. Durations are written in their string
// form ("30s") so the output loads back unchanged.
func Render(cfg *Config) ([]byte, error) {
	node, err := encodeNode(reflect.ValueOf(cfg))
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// encodeNode builds a mapping node that keeps struct field order.
func encodeNode(v reflect.Value) (*yaml.Node, error) {
	if v.Type() == durationType {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: time.Duration(v.Int()).String()}, nil
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
		}
		return encodeNode(v.Elem())

	case reflect.Struct:
		n := &yaml.Node{Kind: yaml.MappingNode}
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if !field.IsExported() || name == "-" {
				continue
			}
			if name == "" {
				name = strings.ToLower(field.Name)
			}
			val, err := encodeNode(v.Field(i))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}, val)
		}
		return n, nil

	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.Struct {
			break
		}
		n := &yaml.Node{Kind: yaml.SequenceNode}
		for i := 0; i < v.Len(); i++ {
			item, err := encodeNode(v.Index(i))
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, item)
		}
		return n, nil
	}

	n := &yaml.Node{}
	if err := n.Encode(v.Interface()); err != nil {
		return nil, err
	}
	return n, nil
}

// InitConfig writes the default configuration to path, or to the default
// location when path is empty. An existing file is only replaced when force
// is set. Returns the path written.
func InitConfig(path string, force bool) (string, error) {
	if path == "" {
		path = GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	body, err := Render(GetDefaultConfig())
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(fileHeader), body...), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// FeedSpecs converts the configured feeds into repository specs.
func (c *Config) FeedSpecs() []feed.Spec {
	specs := make([]feed.Spec, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		specs = append(specs, feed.Spec{Name: f.Name, URL: f.URL, Enabled: f.IsEnabled()})
	}
	return specs
}
