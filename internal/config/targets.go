package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tappedai/event-crawler/internal/domain"
)

// TargetsFile is the on-disk shape of the targets file.
type TargetsFile struct {
	Targets []domain.ScraperConfig `yaml:"targets"`
}

// LoadTargets reads and validates the targets file at path.
// A target without a sitemap gets https://<host>/sitemap.xml.
func LoadTargets(path string) ([]domain.ScraperConfig, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- targets path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return ParseTargets(data)
}

// ParseTargets decodes a targets document.
func ParseTargets(data []byte) ([]domain.ScraperConfig, error) {
	var file TargetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode targets: %w", err)
	}

	seen := make(map[string]bool, len(file.Targets))
	for i := range file.Targets {
		t := &file.Targets[i]
		if t.ID == "" || t.Username == "" {
			return nil, fmt.Errorf("target %d: id and username are required", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("target %d: duplicate id %s", i, t.ID)
		}
		seen[t.ID] = true

		u, err := url.Parse(t.URL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("target %s: invalid url %q", t.ID, t.URL)
		}
		if t.Sitemap == "" {
			t.Sitemap = "https://" + u.Host + "/sitemap.xml"
		}
		if t.Name == "" {
			t.Name = t.Username
		}
	}
	return file.Targets, nil
}

// FindTarget looks a target up by id or username.
func FindTarget(targets []domain.ScraperConfig, key string) (domain.ScraperConfig, bool) {
	for _, t := range targets {
		if t.ID == key || strings.EqualFold(t.Username, key) {
			return t, true
		}
	}
	return domain.ScraperConfig{}, false
}
