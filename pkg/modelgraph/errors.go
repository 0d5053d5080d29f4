package modelgraph

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
)

// LoadErrorKind classifies why project metadata could not be turned into a graph.
type LoadErrorKind string

const (
	LoadErrorMalformed            LoadErrorKind = "malformed"
	LoadErrorMissingProject       LoadErrorKind = "missing_project"
	LoadErrorUndeclaredDependency LoadErrorKind = "undeclared_dependency"
	LoadErrorCycle                LoadErrorKind = "cycle"
)

// LoadError is returned by Load and New. It matches apperrors.ErrMetadataLoad.
type LoadError struct {
	Kind LoadErrorKind
	// Path is the offending file, when known.
	Path string
	// Model and Dependency identify an undeclared reference.
	Model      string
	Dependency string
	// Cycle is the node sequence of a detected cycle, first node repeated at the end.
	Cycle []string
	Err   error
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case LoadErrorCycle:
		return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
	case LoadErrorUndeclaredDependency:
		return fmt.Sprintf("model %q depends on undeclared %q", e.Model, e.Dependency)
	case LoadErrorMissingProject:
		return fmt.Sprintf("project not found at %s: %v", e.Path, e.Err)
	default:
		if e.Path != "" {
			return fmt.Sprintf("malformed project metadata in %s: %v", e.Path, e.Err)
		}
		return fmt.Sprintf("malformed project metadata: %v", e.Err)
	}
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == apperrors.ErrMetadataLoad
}

func malformed(path string, format string, args ...any) *LoadError {
	return &LoadError{Kind: LoadErrorMalformed, Path: path, Err: fmt.Errorf(format, args...)}
}
