package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter matches records against glob patterns for databases and
// tables. An empty pattern list on either axis matches everything.
type GlobFilter struct {
	tableGlobs    []glob.Glob
	databaseGlobs []glob.Glob
}

// NewGlobFilter compiles the given patterns into a filter.
func NewGlobFilter(tablePatterns, dbPatterns []string) (*GlobFilter, error) {
	tableGlobs, err := compileGlobs("table", tablePatterns)
	if err != nil {
		return nil, err
	}
	databaseGlobs, err := compileGlobs("database", dbPatterns)
	if err != nil {
		return nil, err
	}
	return &GlobFilter{tableGlobs: tableGlobs, databaseGlobs: databaseGlobs}, nil
}

func compileGlobs(kind string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Match reports whether the database and table pass the filter. The
// database axis is checked first so table patterns never see records
// from excluded databases.
func (f *GlobFilter) Match(database, table string) bool {
	if !matchAny(f.databaseGlobs, database) {
		return false
	}
	return matchAny(f.tableGlobs, table)
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
