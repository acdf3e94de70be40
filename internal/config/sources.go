package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/dscvr/internal/model"
)

// FeedSource はソース定義ファイルに記述するRSSフィード。
type FeedSource struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	Language string `yaml:"language"`
}

// Feed はモデルのフィード定義に変換する。
func (s FeedSource) Feed() model.Feed {
	return model.Feed{
		Name:     s.Name,
		URL:      s.URL,
		Category: s.Category,
		Language: s.Language,
		IsActive: true,
	}
}

type sourcesFile struct {
	Feeds []FeedSource `yaml:"feeds"`
}

// DefaultSources は定義ファイルがない場合に使用するRSSフィード一覧を返す。
func DefaultSources() []FeedSource {
	return []FeedSource{
		{Name: "BBC News", URL: "https://feeds.bbci.co.uk/news/rss.xml", Category: "world", Language: "en"},
		{Name: "CNN", URL: "https://rss.cnn.com/rss/edition.rss", Category: "world", Language: "en"},
		{Name: "NPR", URL: "https://feeds.npr.org/1001/rss.xml", Category: "world", Language: "en"},
		{Name: "The Guardian", URL: "https://www.theguardian.com/world/rss", Category: "world", Language: "en"},
		{Name: "Reuters", URL: "https://feeds.reuters.com/Reuters/worldNews", Category: "world", Language: "en"},
	}
}

// LoadSources はYAMLのソース定義ファイルを読み込む。
// pathが空の場合はDefaultSourcesを返す。同じURLが複数回記述された場合は最初の定義を採用する。
func LoadSources(path string) ([]FeedSource, error) {
	if path == "" {
		return DefaultSources(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources はYAMLのソース定義を解析して検証する。
func ParseSources(data []byte) ([]FeedSource, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}
	if len(f.Feeds) == 0 {
		return nil, errors.New("sources file contains no feeds")
	}

	seen := make(map[string]struct{}, len(f.Feeds))
	sources := make([]FeedSource, 0, len(f.Feeds))
	for i, s := range f.Feeds {
		s.URL = strings.TrimSpace(s.URL)
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("feeds[%d]: invalid url %q", i, s.URL)
		}
		if _, dup := seen[s.URL]; dup {
			continue
		}
		seen[s.URL] = struct{}{}

		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			s.Name = u.Host
		}
		s.Category = strings.ToLower(strings.TrimSpace(s.Category))
		if s.Category == "" {
			s.Category = "general"
		}
		if s.Language == "" {
			s.Language = "en"
		}
		sources = append(sources, s)
	}
	return sources, nil
}
