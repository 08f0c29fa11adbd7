package crosswire

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"runtime"
)

// Fixed entry points every loadable module library must export. Both must
// resolve or the load fails.
const (
	// ModuleCtorSymbol names the factory: a func() Module returning a
	// newly constructed module.
	ModuleCtorSymbol = "ModuleCtor"

	// ModuleDtorSymbol names the destroyer taking the same module back.
	ModuleDtorSymbol = "ModuleDtor"
)

// ModuleCtor is the factory signature a module library exports.
type ModuleCtor = func() Module

// ModuleDtor is the destroyer signature a module library exports.
type ModuleDtor = func(Module)

// Symbol is an address resolved from a dynamic library.
type Symbol any

// LibraryHandle is an open dynamic library. The dispatcher keeps the
// handle alive at least as long as any module produced from it.
type LibraryHandle interface {
	// Resolve returns the named exported symbol.
	Resolve(symbol string) (Symbol, error)

	// Path returns the path the library was opened from.
	Path() string
}

// DynamicLoader opens module libraries. The default implementation is
// backed by the Go plugin runtime; hosts may substitute their own, e.g.
// for tests.
type DynamicLoader interface {
	Open(path string) (LibraryHandle, error)
}

// NewPluginLoader returns the loader backed by the Go plugin runtime.
func NewPluginLoader() DynamicLoader {
	return pluginLoader{}
}

type pluginLoader struct{}

func (pluginLoader) Open(path string) (LibraryHandle, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open module library %s: %w", path, err)
	}
	return pluginHandle{p: p, path: path}, nil
}

type pluginHandle struct {
	p    *plugin.Plugin
	path string
}

func (h pluginHandle) Resolve(symbol string) (Symbol, error) {
	sym, err := h.p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, symbol, h.path)
	}
	return sym, nil
}

func (h pluginHandle) Path() string { return h.path }

// BuildLibraryFilename maps a bare module name to the platform's shared
// library filename: libNAME.so, libNAME.dylib or NAME.dll.
func BuildLibraryFilename(name string) string {
	switch runtime.GOOS {
	case "windows":
		return name + ".dll"
	case "darwin":
		return "lib" + name + ".dylib"
	default:
		return "lib" + name + ".so"
	}
}

// resolveLibraryPath locates a library file. Relative paths are tried
// against each search directory in order, first hit wins; an empty list
// means the current directory.
func resolveLibraryPath(path string, searchDirs []string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, path)
		}
		return path, nil
	}

	dirs := searchDirs
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, dir := range dirs {
		full := filepath.Join(dir, path)
		if _, err := os.Stat(full); err == nil {
			return full, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, path)
}

// moduleForPath loads a module library and constructs its module through
// the resolved factory. The returned spec owns both the module and the
// library handle; the handle outlives the module instance.
func (d *Dispatcher) moduleForPath(path string) (*moduleSpec, error) {
	full, err := resolveLibraryPath(path, d.searchDirs)
	if err != nil {
		d.LogError("cannot load module library", "path", path, "error", err)
		return nil, err
	}

	handle, err := d.loader.Open(full)
	if err != nil {
		d.LogError("cannot load module library", "path", full, "error", err)
		return nil, err
	}

	ctorSym, err := handle.Resolve(ModuleCtorSymbol)
	if err != nil {
		d.LogError("failed to resolve module factory", "path", full, "error", err)
		return nil, err
	}
	ctor, err := asCtor(ctorSym)
	if err != nil {
		d.LogError("failed to resolve module factory", "path", full, "error", err)
		return nil, err
	}

	dtorSym, err := handle.Resolve(ModuleDtorSymbol)
	if err != nil {
		d.LogError("failed to resolve module destroyer", "path", full, "error", err)
		return nil, err
	}
	dtor, err := asDtor(dtorSym)
	if err != nil {
		d.LogError("failed to resolve module destroyer", "path", full, "error", err)
		return nil, err
	}

	m := ctor()
	if m == nil {
		err := fmt.Errorf("%w: %s", ErrFactoryReturnedNil, full)
		d.LogError("module factory failed", "path", full, "error", err)
		return nil, err
	}

	return &moduleSpec{module: m, library: handle, dtor: dtor}, nil
}

// asCtor accepts the factory either as an exported function or as an
// exported variable of the factory type (the plugin runtime resolves
// variables to pointers).
func asCtor(sym Symbol) (ModuleCtor, error) {
	switch f := sym.(type) {
	case func() Module:
		return f, nil
	case *ModuleCtor:
		return *f, nil
	}
	return nil, fmt.Errorf("%w: %s is %T", ErrBadFactorySignature, ModuleCtorSymbol, sym)
}

func asDtor(sym Symbol) (ModuleDtor, error) {
	switch f := sym.(type) {
	case func(Module):
		return f, nil
	case *ModuleDtor:
		return *f, nil
	}
	return nil, fmt.Errorf("%w: %s is %T", ErrBadFactorySignature, ModuleDtorSymbol, sym)
}
