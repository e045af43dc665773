// Package sources loads the catalog of community groups to scrape from a
// JSON file and resolves run selections against it.
package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/leadswipe/leadswipe-api/engine/domain"
)

// DefaultPostsPerSource applies when the file has no settings.
const DefaultPostsPerSource = 50

// SelectAll is the selector that picks every configured source.
const SelectAll = "all"

type fileGroup struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type fileSettings struct {
	PostsPerGroup int `json:"posts_per_group"`
}

type fileFormat struct {
	Groups   []fileGroup  `json:"groups"`
	Settings fileSettings `json:"settings"`
}

// Catalog is the parsed source file.
type Catalog struct {
	Sources        []domain.Source
	PostsPerSource int
}

// Loader reads the catalog. It is called once per run.
type Loader interface {
	Load() (Catalog, error)
}

// File loads the catalog from a groups.json file.
type File struct {
	Path string
}

// Load implements Loader. Failures wrap domain.ErrConfiguration.
func (f File) Load() (Catalog, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Catalog{}, fmt.Errorf("%w: read %s: %v", domain.ErrConfiguration, f.Path, err)
	}
	return Parse(data)
}

// Parse decodes groups.json content. Source ids are "group_<n>" where n is
// the 1-based position in the file.
func Parse(data []byte) (Catalog, error) {
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return Catalog{}, fmt.Errorf("%w: parse groups: %v", domain.ErrConfiguration, err)
	}
	cat := Catalog{PostsPerSource: ff.Settings.PostsPerGroup}
	if cat.PostsPerSource <= 0 {
		cat.PostsPerSource = DefaultPostsPerSource
	}
	for i, g := range ff.Groups {
		if strings.TrimSpace(g.URL) == "" {
			return Catalog{}, fmt.Errorf("%w: group %d has no url", domain.ErrConfiguration, i+1)
		}
		cat.Sources = append(cat.Sources, domain.Source{
			ID:   fmt.Sprintf("group_%d", i+1),
			Name: g.Name,
			URL:  g.URL,
		})
	}
	return cat, nil
}

// Select resolves ids against the catalog, keeping catalog order. A nil or
// empty ids selects every source. Unknown ids produce an
// *domain.UnknownSourceError listing all of them.
func (c Catalog) Select(ids []string) ([]domain.Source, error) {
	if len(ids) == 0 {
		if len(c.Sources) == 0 {
			return nil, fmt.Errorf("%w: no groups configured", domain.ErrConfiguration)
		}
		return append([]domain.Source(nil), c.Sources...), nil
	}

	known := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		known[s.ID] = true
	}
	wanted := make(map[string]bool, len(ids))
	var unknown []string
	for _, id := range ids {
		if !known[id] {
			unknown = append(unknown, id)
		}
		wanted[id] = true
	}
	if len(unknown) > 0 {
		return nil, &domain.UnknownSourceError{IDs: unknown}
	}

	var out []domain.Source
	for _, s := range c.Sources {
		if wanted[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Selection is the "group_ids" field of a run request: either the string
// "all" or a list of ids.
type Selection struct {
	All bool
	IDs []string
}

// UnmarshalJSON accepts "all", null, or an array of strings.
func (s *Selection) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Selection{All: true}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str != SelectAll {
			return fmt.Errorf("group_ids: expected %q or a list, got %q", SelectAll, str)
		}
		*s = Selection{All: true}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return errors.New("group_ids: expected \"all\" or a list of ids")
	}
	*s = Selection{IDs: ids}
	return nil
}

// IDList returns nil for "all", the explicit ids otherwise.
func (s Selection) IDList() []string {
	if s.All {
		return nil
	}
	return s.IDs
}
