package module

import (
	"fmt"
	"os"
	"path/filepath"
)

// Registry resolves module ids to executables under a lookup root. A module
// id maps to <root>/<id> (or <root>/<id>/<id> for packaged modules).
type Registry struct {
	root string
}

// NewRegistry points module lookup at the given directory.
func NewRegistry(root string) *Registry {
	return &Registry{root: root}
}

// Has reports whether the module id resolves to an executable file.
func (r *Registry) Has(name string) bool {
	_, err := r.resolve(name)
	return err == nil
}

// Resolve returns the executable path for a module id.
func (r *Registry) Resolve(name string) (string, error) {
	return r.resolve(name)
}

// Module returns a CLI module for the id.
func (r *Registry) Module(name string) (Module, error) {
	path, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	return NewCLI(path), nil
}

func (r *Registry) resolve(name string) (string, error) {
	if r == nil || r.root == "" {
		return "", fmt.Errorf("module registry root not configured")
	}
	if name == "" {
		return "", fmt.Errorf("module id is empty")
	}
	candidates := []string{
		filepath.Join(r.root, name),
		filepath.Join(r.root, name, name),
	}
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("module %q not found under %s", name, r.root)
}

// AllowAll is a permissive resolver used under mock mode and dry runs, where
// recipes must validate without real executables installed.
type AllowAll struct{}

func (AllowAll) Has(string) bool { return true }
