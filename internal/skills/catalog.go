package skills

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type App struct {
	Command []string `yaml:"command"`
	Aliases []string `yaml:"aliases"`
}

type Folder struct {
	Path    string   `yaml:"path"`
	Aliases []string `yaml:"aliases"`
}

// Catalog lists what the launcher capabilities may open.
type Catalog struct {
	Apps    map[string]App    `yaml:"apps"`
	Folders map[string]Folder `yaml:"folders"`
}

func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file. An empty path gives the built-in one.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	apps := make(map[string]App, len(c.Apps))
	for name, app := range c.Apps {
		if len(app.Command) == 0 {
			return nil, fmt.Errorf("app %q has no command", name)
		}
		apps[strings.ToLower(strings.TrimSpace(name))] = app
	}
	folders := make(map[string]Folder, len(c.Folders))
	for name, f := range c.Folders {
		if f.Path == "" {
			return nil, fmt.Errorf("folder %q has no path", name)
		}
		folders[strings.ToLower(strings.TrimSpace(name))] = f
	}
	c.Apps, c.Folders = apps, folders
	return &c, nil
}

// AppAliases maps every spoken form, canonical names included, to the
// canonical app name.
func (c *Catalog) AppAliases() map[string]string {
	out := make(map[string]string)
	for name, app := range c.Apps {
		out[name] = name
		for _, a := range app.Aliases {
			out[strings.ToLower(a)] = name
		}
	}
	return out
}

// Commands returns the expanded argv per canonical app name.
func (c *Catalog) Commands() map[string][]string {
	out := make(map[string][]string, len(c.Apps))
	for name, app := range c.Apps {
		argv := make([]string, len(app.Command))
		for i, arg := range app.Command {
			argv[i] = ExpandPath(arg)
		}
		out[name] = argv
	}
	return out
}

// FolderAliases also accepts "my downloads" and "downloads folder".
func (c *Catalog) FolderAliases() map[string]string {
	out := make(map[string]string)
	for name, f := range c.Folders {
		for _, a := range append([]string{name}, f.Aliases...) {
			a = strings.ToLower(a)
			out[a] = name
			out[a+" folder"] = name
			out["my "+a] = name
			out["my "+a+" folder"] = name
		}
	}
	return out
}

func (c *Catalog) FolderPath(name string) (string, bool) {
	f, ok := c.Folders[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return ExpandPath(f.Path), true
}

// ExpandPath expands a leading "~" and environment variables.
func ExpandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
