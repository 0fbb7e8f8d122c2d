package core

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FSLoaderConfig configures the filesystem loader: the directories to
// scan and the glob pattern set per descriptor kind.
type FSLoaderConfig struct {
	Directories      []string
	DatabasePatterns []string
	QueryPatterns    []string
	EndpointPatterns []string
}

// withPatternDefaults fills empty pattern sets with the conventional globs.
func (c FSLoaderConfig) withPatternDefaults() FSLoaderConfig {
	if len(c.DatabasePatterns) == 0 {
		c.DatabasePatterns = []string{"*-databases.yml", "*-databases.yaml"}
	}
	if len(c.QueryPatterns) == 0 {
		c.QueryPatterns = []string{"*-queries.yml", "*-queries.yaml"}
	}
	if len(c.EndpointPatterns) == 0 {
		c.EndpointPatterns = []string{"*-endpoints.yml", "*-endpoints.yaml"}
	}
	return c
}

// FSLoader reads descriptor files from one or more directories. Files are
// parsed as a mapping-document with a single top-level key (databases,
// queries or endpoints) whose value maps names to descriptors.
type FSLoader struct {
	fs   afero.Fs
	conf FSLoaderConfig
	log  *zap.SugaredLogger
}

// NewFSLoader creates a filesystem loader over fs, which is the OS
// filesystem in production and an in-memory one in tests.
func NewFSLoader(fs afero.Fs, conf FSLoaderConfig, log *zap.SugaredLogger) *FSLoader {
	return &FSLoader{fs: fs, conf: conf.withPatternDefaults(), log: log}
}

// Source identifies the loader variant.
func (l *FSLoader) Source() string { return "filesystem" }

// LoadDatabases reads database descriptors. A single unreadable or
// unparsable file is skipped with a warning; ending up with zero
// databases is fatal. A duplicate name skips the later file.
func (l *FSLoader) LoadDatabases() (map[string]Database, error) {
	out := make(map[string]Database)
	files, err := l.matchFiles(l.conf.DatabasePatterns)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		var doc struct {
			Databases map[string]Database `yaml:"databases"`
		}
		if err := l.parseFile(f, &doc); err != nil {
			l.log.Warnw("skipping unreadable database file", "path", f, "error", err)
			continue
		}
		names := sortedKeys(doc.Databases)
		skip := false
		for _, name := range names {
			if _, dup := out[name]; dup {
				l.log.Warnw("duplicate database name, skipping file",
					"name", name, "path", f)
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, name := range names {
			d := doc.Databases[name].normalize(name)
			d.URL = expandEnv(d.URL)
			out[d.Name] = d
		}
	}

	if len(out) == 0 {
		return nil, newConfigError(ErrEmpty, dirList(l.conf.Directories),
			fmt.Errorf("no valid database descriptors found"))
	}
	return out, nil
}

// LoadQueries reads query descriptors. Any failure is fatal.
func (l *FSLoader) LoadQueries() (map[string]Query, error) {
	out := make(map[string]Query)
	seen := make(map[string]string) // name -> first file
	files, err := l.matchFiles(l.conf.QueryPatterns)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		var doc struct {
			Queries map[string]Query `yaml:"queries"`
		}
		if err := l.parseFile(f, &doc); err != nil {
			return nil, newConfigError(ErrParse, f, err)
		}
		for _, name := range sortedKeys(doc.Queries) {
			if first, dup := seen[name]; dup {
				return nil, newConfigError(ErrDuplicate, f,
					fmt.Errorf("query %q already defined in %s", name, first))
			}
			seen[name] = f
			out[name] = doc.Queries[name].normalize(name)
		}
	}
	return out, nil
}

// LoadEndpoints reads endpoint descriptors. Any failure is fatal.
func (l *FSLoader) LoadEndpoints() (map[string]Endpoint, error) {
	out := make(map[string]Endpoint)
	seen := make(map[string]string)
	files, err := l.matchFiles(l.conf.EndpointPatterns)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		var doc struct {
			Endpoints map[string]Endpoint `yaml:"endpoints"`
		}
		if err := l.parseFile(f, &doc); err != nil {
			return nil, newConfigError(ErrParse, f, err)
		}
		for _, name := range sortedKeys(doc.Endpoints) {
			if first, dup := seen[name]; dup {
				return nil, newConfigError(ErrDuplicate, f,
					fmt.Errorf("endpoint %q already defined in %s", name, first))
			}
			seen[name] = f
			out[name] = doc.Endpoints[name].normalize(name)
		}
	}
	return out, nil
}

// matchFiles enumerates regular files in each configured directory, in
// lexicographic order, that match any of the given glob patterns.
func (l *FSLoader) matchFiles(patterns []string) ([]string, error) {
	var out []string
	for _, dir := range l.conf.Directories {
		entries, err := afero.ReadDir(l.fs, dir)
		if err != nil {
			return nil, newConfigError(ErrIO, dir, err)
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, n := range names {
			for _, p := range patterns {
				ok, err := filepath.Match(p, n)
				if err != nil {
					return nil, newConfigError(ErrParse, p, err)
				}
				if ok {
					out = append(out, filepath.Join(dir, n))
					break
				}
			}
		}
	}
	return out, nil
}

// parseFile decodes one YAML mapping-document into v.
func (l *FSLoader) parseFile(path string, v interface{}) error {
	b, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, v)
}

// sortedKeys returns map keys in ascending order for deterministic loads.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// dirList joins directory names for error reporting.
func dirList(dirs []string) string {
	if len(dirs) == 0 {
		return "(no directories)"
	}
	out := dirs[0]
	for _, d := range dirs[1:] {
		out += "," + d
	}
	return out
}
