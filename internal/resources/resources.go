package resources

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed strings.yaml
var defaultStrings []byte

// Strings are the user-visible texts of the foreground notification.
type Strings struct {
	NotificationTitle   string `yaml:"notification_title"`
	NotificationMessage string `yaml:"notification_message"`
	TickerText          string `yaml:"ticker_text"`
	ChannelName         string `yaml:"channel_name"`
}

// Load returns the embedded strings.
func Load() (Strings, error) {
	return parse(defaultStrings)
}

// LoadFile reads strings from path. Keys missing from the file keep their
// embedded values.
func LoadFile(path string) (Strings, error) {
	if path == "" {
		return Load()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Strings{}, fmt.Errorf("read resources: %w", err)
	}
	s, err := Load()
	if err != nil {
		return Strings{}, err
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Strings{}, fmt.Errorf("parse resources %s: %w", path, err)
	}
	return s, nil
}

func parse(b []byte) (Strings, error) {
	var s Strings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Strings{}, fmt.Errorf("parse resources: %w", err)
	}
	return s, nil
}
