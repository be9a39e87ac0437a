// Package catalog loads the editing tool definitions and validates tool
// settings against their constraints.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrInvalidSettings = errors.New("invalid settings")
)

//go:embed tools/*.yaml
var builtin embed.FS

type compiled struct {
	tool     *Tool
	programs []*vm.Program
}

// Catalog is the set of available tools. It is safe for concurrent use and
// can be reloaded in place.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*compiled
}

// Default returns the catalog built into the binary.
func Default() (*Catalog, error) {
	sub, err := fs.Sub(builtin, "tools")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// LoadDir loads every .yaml file of dir.
func LoadDir(dir string) (*Catalog, error) {
	return Load(os.DirFS(dir))
}

// Load parses the top-level .yaml files of fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{}
	if err := c.reload(fsys); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reload(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	tools := make(map[string]*compiled)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		t, err := parseTool(fsys, e.Name())
		if err != nil {
			return err
		}
		if _, dup := tools[t.ID]; dup {
			return fmt.Errorf("duplicate tool id %q in %s", t.ID, e.Name())
		}
		ct, err := compile(t)
		if err != nil {
			return err
		}
		tools[t.ID] = ct
	}
	if len(tools) == 0 {
		return errors.New("catalog contains no tools")
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return nil
}

func parseTool(fsys fs.FS, name string) (*Tool, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool file: %w", err)
	}
	var t Tool
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse tool yaml %s: %w", name, err)
	}
	// Ensure ID matches filename if not set
	if t.ID == "" {
		t.ID = strings.TrimSuffix(name, ".yaml")
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	return &t, nil
}

func compile(t *Tool) (*compiled, error) {
	ct := &compiled{tool: t}
	for _, cons := range t.Constraints {
		prog, err := expr.Compile(cons.Expr, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("tool %s: bad constraint %q: %w", t.ID, cons.Expr, err)
		}
		ct.programs = append(ct.programs, prog)
	}
	return ct, nil
}

// Get returns the definition of a tool.
func (c *Catalog) Get(id string) (*Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.tools[id]
	if !ok {
		return nil, false
	}
	return ct.tool, true
}

// List returns all tools sorted by category then id, localized to lang.
func (c *Catalog) List(lang string) []*Tool {
	c.mu.RLock()
	out := make([]*Tool, 0, len(c.tools))
	for _, ct := range c.tools {
		out = append(out, ct.tool.Localized(lang))
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Resolve merges settings over the tool defaults and checks every
// constraint. The merged settings are returned.
func (c *Catalog) Resolve(id string, settings map[string]any) (map[string]any, error) {
	c.mu.RLock()
	ct, ok := c.tools[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}

	merged := make(map[string]any, len(ct.tool.Defaults)+len(settings))
	for k, v := range ct.tool.Defaults {
		merged[k] = normalize(v)
	}
	for k, v := range settings {
		merged[k] = normalize(v)
	}

	for i, prog := range ct.programs {
		out, err := expr.Run(prog, merged)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSettings, ct.tool.Constraints[i].Message, err)
		}
		if ok, _ := out.(bool); !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSettings, ct.tool.Constraints[i].Message)
		}
	}
	return merged, nil
}

// normalize turns whole floats (as produced by JSON decoding) into ints so
// integer operators work in constraints.
func normalize(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int(f)
	}
	return v
}
