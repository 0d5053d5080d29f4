package modelgraph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/querysight/pkg/models"
)

const (
	projectFileName  = "dbt_project.yml"
	manifestFileName = "manifest.json"

	defaultSchema          = "public"
	defaultDatabase        = "default"
	defaultMaterialization = "view"
)

// projectFile is the subset of dbt_project.yml the loader reads.
type projectFile struct {
	Name        string         `yaml:"name"`
	ModelPaths  []string       `yaml:"model-paths"`
	SourcePaths []string       `yaml:"source-paths"`
	TargetPath  string         `yaml:"target-path"`
	Models      map[string]any `yaml:"models"`
}

// defaults returns the project-level schema and database for models.
func (p *projectFile) defaults() (schema, database string) {
	schema, database = defaultSchema, defaultDatabase
	if v := stringSetting(p.Models, "schema"); v != "" {
		schema = v
	}
	if v := stringSetting(p.Models, "database"); v != "" {
		database = v
	}
	return schema, database
}

func (p *projectFile) modelPaths() []string {
	switch {
	case len(p.ModelPaths) > 0:
		return p.ModelPaths
	case len(p.SourcePaths) > 0:
		return p.SourcePaths
	}
	return []string{"models"}
}

func (p *projectFile) targetPath() string {
	if p.TargetPath != "" {
		return p.TargetPath
	}
	return "target"
}

// stringSetting reads a dbt config key, accepting both "key" and "+key".
func stringSetting(m map[string]any, key string) string {
	for _, k := range []string{key, "+" + key} {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Load reads a dbt project's declared models and returns the validated graph.
// A compiled target/manifest.json is preferred; otherwise the model directories are
// scanned for SQL files and YAML property files.
func Load(projectPath string) (*Graph, error) {
	info, err := os.Stat(projectPath)
	if err != nil {
		return nil, &LoadError{Kind: LoadErrorMissingProject, Path: projectPath, Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Kind: LoadErrorMissingProject, Path: projectPath, Err: errors.New("not a directory")}
	}

	project, err := readProjectFile(projectPath)
	if err != nil {
		return nil, err
	}
	schema, database := project.defaults()

	manifestPath := filepath.Join(projectPath, project.targetPath(), manifestFileName)
	if _, err := os.Stat(manifestPath); err == nil {
		nodes, sources, err := loadManifest(manifestPath, schema, database)
		if err != nil {
			return nil, err
		}
		return New(nodes, sources)
	}

	nodes, sources, err := scanProject(projectPath, project.modelPaths(), schema, database)
	if err != nil {
		return nil, err
	}
	return New(nodes, sources)
}

// readProjectFile parses dbt_project.yml. A missing file yields the defaults.
func readProjectFile(projectPath string) (*projectFile, error) {
	path := filepath.Join(projectPath, projectFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &projectFile{}, nil
	}
	if err != nil {
		return nil, malformed(path, "read: %w", err)
	}
	var p projectFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, malformed(path, "parse: %w", err)
	}
	return &p, nil
}

// ============================================================================
// Manifest
// ============================================================================

type manifest struct {
	Nodes   map[string]manifestNode   `json:"nodes"`
	Sources map[string]manifestSource `json:"sources"`
}

type manifestNode struct {
	UniqueID         string   `json:"unique_id"`
	ResourceType     string   `json:"resource_type"`
	Name             string   `json:"name"`
	Alias            string   `json:"alias"`
	Schema           string   `json:"schema"`
	Database         string   `json:"database"`
	OriginalFilePath string   `json:"original_file_path"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	Columns          map[string]struct {
		Name string `json:"name"`
	} `json:"columns"`
	Config struct {
		Materialized string `json:"materialized"`
		Schema       string `json:"schema"`
		Database     string `json:"database"`
		Alias        string `json:"alias"`
	} `json:"config"`
	DependsOn struct {
		Nodes []string `json:"nodes"`
	} `json:"depends_on"`
}

type manifestSource struct {
	UniqueID   string `json:"unique_id"`
	Name       string `json:"name"`
	SourceName string `json:"source_name"`
	Identifier string `json:"identifier"`
	Schema     string `json:"schema"`
	Database   string `json:"database"`
}

func loadManifest(path, schema, database string) ([]models.ModelNode, []models.SourceNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, malformed(path, "read: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, malformed(path, "parse: %w", err)
	}

	sourceNames := make(map[string]string, len(m.Sources))
	sources := make([]models.SourceNode, 0, len(m.Sources))
	for id, s := range m.Sources {
		if s.Name == "" || s.SourceName == "" {
			return nil, nil, malformed(path, "source %q has no name", id)
		}
		name := s.SourceName + "." + s.Name
		sourceNames[id] = name
		sources = append(sources, models.SourceNode{
			Name:       name,
			Identifier: firstNonEmpty(s.Identifier, s.Name),
			Schema:     firstNonEmpty(s.Schema, s.SourceName),
			Database:   firstNonEmpty(s.Database, database),
		})
	}

	modelNames := make(map[string]string)
	for id, n := range m.Nodes {
		if n.ResourceType == "model" {
			if n.Name == "" {
				return nil, nil, malformed(path, "model %q has no name", id)
			}
			modelNames[id] = n.Name
		}
	}

	nodes := make([]models.ModelNode, 0, len(modelNames))
	for id, n := range m.Nodes {
		if n.ResourceType != "model" {
			continue
		}
		node := models.ModelNode{
			Name:            n.Name,
			UniqueID:        firstNonEmpty(n.UniqueID, id),
			Path:            n.OriginalFilePath,
			Schema:          firstNonEmpty(n.Schema, n.Config.Schema, schema),
			Database:        firstNonEmpty(n.Database, n.Config.Database, database),
			Alias:           aliasOrEmpty(firstNonEmpty(n.Alias, n.Config.Alias), n.Name),
			Materialization: firstNonEmpty(n.Config.Materialized, defaultMaterialization),
			Tags:            n.Tags,
			Description:     n.Description,
		}
		for _, c := range n.Columns {
			node.Columns = append(node.Columns, c.Name)
		}
		sort.Strings(node.Columns)

		for _, dep := range n.DependsOn.Nodes {
			switch {
			case strings.HasPrefix(dep, "model."):
				name, ok := modelNames[dep]
				if !ok {
					return nil, nil, &LoadError{Kind: LoadErrorUndeclaredDependency, Model: n.Name, Dependency: dep, Path: path}
				}
				node.DependsOn = append(node.DependsOn, name)
			case strings.HasPrefix(dep, "source."):
				name, ok := sourceNames[dep]
				if !ok {
					return nil, nil, &LoadError{Kind: LoadErrorUndeclaredDependency, Model: n.Name, Dependency: dep, Path: path}
				}
				node.Sources = append(node.Sources, name)
			}
			// Macros, seeds and snapshots are not part of the model graph.
		}
		nodes = append(nodes, node)
	}
	return nodes, sources, nil
}

// ============================================================================
// Project Scan
// ============================================================================

var (
	jinjaCommentRe = regexp.MustCompile(`(?s)\{#.*?#\}`)
	refRe          = regexp.MustCompile(`\bref\(\s*['"]([^'"]+)['"]\s*(?:,\s*['"]([^'"]+)['"]\s*)?[,)]`)
	sourceRe       = regexp.MustCompile(`\bsource\(\s*['"]([^'"]+)['"]\s*,\s*['"]([^'"]+)['"]\s*\)`)
	configRe       = regexp.MustCompile(`(?s)\{\{\s*config\((.*?)\)\s*\}\}`)
	configArgRe    = regexp.MustCompile(`(\w+)\s*=\s*['"]([^'"]*)['"]`)
)

// propertiesFile is a dbt schema.yml / properties file.
type propertiesFile struct {
	Models []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Tags        []string `yaml:"tags"`
		Columns     []struct {
			Name string `yaml:"name"`
		} `yaml:"columns"`
		Config struct {
			Materialized string   `yaml:"materialized"`
			Schema       string   `yaml:"schema"`
			Database     string   `yaml:"database"`
			Alias        string   `yaml:"alias"`
			Tags         []string `yaml:"tags"`
		} `yaml:"config"`
	} `yaml:"models"`
	Sources []struct {
		Name     string `yaml:"name"`
		Schema   string `yaml:"schema"`
		Database string `yaml:"database"`
		Tables   []struct {
			Name       string `yaml:"name"`
			Identifier string `yaml:"identifier"`
		} `yaml:"tables"`
	} `yaml:"sources"`
}

// scannedModel keeps which settings came from an inline config() block; those win over
// YAML properties.
type scannedModel struct {
	node   models.ModelNode
	inline map[string]string
}

func scanProject(projectPath string, modelPaths []string, schema, database string) ([]models.ModelNode, []models.SourceNode, error) {
	scanned := make(map[string]*scannedModel)
	var order []string
	var props []propertiesFile
	found := false

	for _, mp := range modelPaths {
		root := filepath.Join(projectPath, mp)
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			continue
		}
		found = true

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, _ := filepath.Rel(projectPath, path)

			switch strings.ToLower(filepath.Ext(path)) {
			case ".sql":
				m, err := parseModelFile(path, schema, database)
				if err != nil {
					return err
				}
				m.node.Path = filepath.ToSlash(rel)
				if prev, dup := scanned[m.node.Name]; dup {
					return malformed(path, "duplicate model %q (also in %s)", m.node.Name, prev.node.Path)
				}
				scanned[m.node.Name] = m
				order = append(order, m.node.Name)
			case ".yml", ".yaml":
				p, err := parsePropertiesFile(path)
				if err != nil {
					return err
				}
				props = append(props, *p)
			}
			return nil
		})
		if err != nil {
			var le *LoadError
			if errors.As(err, &le) {
				return nil, nil, le
			}
			return nil, nil, malformed(root, "walk: %w", err)
		}
	}

	if !found {
		return nil, nil, &LoadError{
			Kind: LoadErrorMissingProject,
			Path: projectPath,
			Err:  fmt.Errorf("no %s and no model directory in %v", manifestFileName, modelPaths),
		}
	}

	sources := make(map[string]models.SourceNode)
	for _, p := range props {
		for _, pm := range p.Models {
			m, ok := scanned[pm.Name]
			if !ok {
				continue
			}
			n := &m.node
			n.Description = firstNonEmpty(n.Description, pm.Description)
			n.Tags = sortedUnique(append(append(n.Tags, pm.Tags...), pm.Config.Tags...))
			for _, c := range pm.Columns {
				n.Columns = append(n.Columns, c.Name)
			}
			if m.inline["schema"] == "" && pm.Config.Schema != "" {
				n.Schema = pm.Config.Schema
			}
			if m.inline["database"] == "" && pm.Config.Database != "" {
				n.Database = pm.Config.Database
			}
			if m.inline["alias"] == "" && pm.Config.Alias != "" {
				n.Alias = aliasOrEmpty(pm.Config.Alias, n.Name)
			}
			if m.inline["materialized"] == "" && pm.Config.Materialized != "" {
				n.Materialization = pm.Config.Materialized
			}
		}
		for _, ps := range p.Sources {
			for _, t := range ps.Tables {
				name := ps.Name + "." + t.Name
				sources[name] = models.SourceNode{
					Name:       name,
					Identifier: firstNonEmpty(t.Identifier, t.Name),
					Schema:     firstNonEmpty(ps.Schema, ps.Name),
					Database:   firstNonEmpty(ps.Database, database),
				}
			}
		}
	}

	nodes := make([]models.ModelNode, 0, len(order))
	for _, name := range order {
		n := scanned[name].node
		// source() calls to tables no YAML declares still name a real relation.
		for _, src := range n.Sources {
			if _, ok := sources[src]; ok {
				continue
			}
			sourceName, table, _ := strings.Cut(src, ".")
			sources[src] = models.SourceNode{Name: src, Identifier: table, Schema: sourceName, Database: database}
		}
		nodes = append(nodes, n)
	}

	sourceList := make([]models.SourceNode, 0, len(sources))
	for _, s := range sources {
		sourceList = append(sourceList, s)
	}
	return nodes, sourceList, nil
}

func parseModelFile(path, schema, database string) (*scannedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, malformed(path, "read: %w", err)
	}
	body := jinjaCommentRe.ReplaceAllString(string(data), "")
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	m := &scannedModel{
		node: models.ModelNode{
			Name:            name,
			UniqueID:        "model." + name,
			Schema:          schema,
			Database:        database,
			Materialization: defaultMaterialization,
		},
		inline: make(map[string]string),
	}

	for _, match := range refRe.FindAllStringSubmatch(body, -1) {
		// ref('package', 'model') names the model second.
		dep := match[1]
		if match[2] != "" {
			dep = match[2]
		}
		m.node.DependsOn = append(m.node.DependsOn, dep)
	}
	for _, match := range sourceRe.FindAllStringSubmatch(body, -1) {
		m.node.Sources = append(m.node.Sources, match[1]+"."+match[2])
	}
	if cfg := configRe.FindStringSubmatch(body); cfg != nil {
		for _, kv := range configArgRe.FindAllStringSubmatch(cfg[1], -1) {
			m.inline[kv[1]] = kv[2]
		}
	}

	if v := m.inline["schema"]; v != "" {
		m.node.Schema = v
	}
	if v := m.inline["database"]; v != "" {
		m.node.Database = v
	}
	if v := m.inline["alias"]; v != "" {
		m.node.Alias = aliasOrEmpty(v, name)
	}
	if v := m.inline["materialized"]; v != "" {
		m.node.Materialization = v
	}
	m.node.DependsOn = sortedUnique(m.node.DependsOn)
	m.node.Sources = sortedUnique(m.node.Sources)
	return m, nil
}

func parsePropertiesFile(path string) (*propertiesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, malformed(path, "read: %w", err)
	}
	var p propertiesFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, malformed(path, "parse: %w", err)
	}
	for i, pm := range p.Models {
		if pm.Name == "" {
			return nil, malformed(path, "models[%d] has no name", i)
		}
	}
	return &p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// aliasOrEmpty drops an alias equal to the model name so RelationName falls back to it.
func aliasOrEmpty(alias, name string) string {
	if alias == name {
		return ""
	}
	return alias
}
