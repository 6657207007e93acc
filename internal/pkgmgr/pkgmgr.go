// Package pkgmgr resolves which package manager installs a library on a
// device and builds the install command line for it.
package pkgmgr

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Manager names a package manager.
type Manager string

const (
	Auto Manager = "auto"
	Pip  Manager = "pip"
	Apt  Manager = "apt"
	Npm  Manager = "npm"
)

// UnknownManagerError is returned for manager names outside the supported set.
type UnknownManagerError struct {
	Name string
}

func (e *UnknownManagerError) Error() string {
	return fmt.Sprintf("Unknown package manager: %s", e.Name)
}

// Policy decides between pip and apt when the manager is Auto.
// A library goes to pip when it starts with one of PythonPrefixes or is
// listed in PythonPackages; everything else goes to apt.
type Policy struct {
	PythonPrefixes []string `yaml:"python_prefixes"`
	PythonPackages []string `yaml:"python_packages"`
}

// DefaultPolicy returns the built-in decision table.
func DefaultPolicy() Policy {
	return Policy{
		PythonPrefixes: []string{"python-"},
		PythonPackages: []string{"numpy", "scipy", "pandas", "matplotlib"},
	}
}

// Resolve returns the concrete manager for library. An empty manager is
// treated as Auto.
func (p Policy) Resolve(library string, m Manager) (Manager, error) {
	switch m {
	case "", Auto:
		if p.isPython(library) {
			return Pip, nil
		}
		return Apt, nil
	case Pip, Apt, Npm:
		return m, nil
	default:
		return "", &UnknownManagerError{Name: string(m)}
	}
}

func (p Policy) isPython(library string) bool {
	for _, prefix := range p.PythonPrefixes {
		if prefix != "" && strings.HasPrefix(library, prefix) {
			return true
		}
	}
	return slices.Contains(p.PythonPackages, library)
}

// InstallCommand builds the shell command that installs library with m.
func InstallCommand(m Manager, library string) (string, error) {
	lib := quoteArg(library)

	switch m {
	case Pip:
		return fmt.Sprintf("pip3 install %s", lib), nil
	case Apt:
		return fmt.Sprintf("sudo apt-get update && sudo apt-get install -y %s", lib), nil
	case Npm:
		return fmt.Sprintf("npm install -g %s", lib), nil
	default:
		return "", &UnknownManagerError{Name: string(m)}
	}
}

// safeArg matches package names and version specs that need no shell quoting.
var safeArg = regexp.MustCompile(`^[A-Za-z0-9._+@/:=,-]+$`)

// quoteArg leaves plain package names untouched and single-quotes anything
// else so a library name can never inject shell syntax.
func quoteArg(s string) string {
	if safeArg.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", "'\"'\"'") + "'"
}
