//go:build darwin || linux

// Shared utilities for purego-based codec implementations.

package encstream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// sdkLibPathEnv names a directory searched for every native library.
const sdkLibPathEnv = "ENCSTREAM_LIB_PATH"

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for {
		if *(*byte)(unsafe.Add(p, length)) == 0 {
			break
		}
		length++
		if length > 1024 {
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// sharedLibName returns the platform file name for a library stem such as
// "fdk-aac" or "media_h264".
func sharedLibName(stem string) string {
	if runtime.GOOS == "darwin" {
		return "lib" + stem + ".dylib"
	}
	return "lib" + stem + ".so"
}

// libraryPaths lists candidate locations for a native library, highest
// priority first: the per-library env var, ENCSTREAM_LIB_PATH, next to the
// executable, build/ under the working directory, source and module roots,
// then system paths.
func libraryPaths(stem, envVar string, systemNames ...string) []string {
	libName := sharedLibName(stem)
	var paths []string

	if envPath := os.Getenv(envVar); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv(sdkLibPathEnv); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "..", "build", libName),
			filepath.Join(wd, "..", "..", "build", libName),
		)
	}

	if root := findSourceRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", libName))
	}
	if root := findModuleRoot(); root != "" {
		paths = append(paths, filepath.Join(root, "build", libName))
	}

	// bare names let the dynamic loader search its own path
	paths = append(paths, libName)
	paths = append(paths, systemNames...)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			filepath.Join("/usr/local/lib", libName),
			filepath.Join("/opt/homebrew/lib", libName),
		)
	case "linux":
		paths = append(paths,
			filepath.Join("/usr/local/lib", libName),
			filepath.Join("/usr/lib", libName),
			filepath.Join("/usr/lib/x86_64-linux-gnu", libName),
			filepath.Join("/usr/lib/aarch64-linux-gnu", libName),
		)
	}
	return paths
}

// dlopenFirst opens the first loadable path and resolves its symbols with
// bind. A library that opens but fails to bind is closed and skipped.
func dlopenFirst(name string, paths []string, bind func(handle uintptr) error) (uintptr, error) {
	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		if err := bind(handle); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		return handle, nil
	}
	if lastErr != nil {
		return 0, fmt.Errorf("failed to load %s: %w", name, lastErr)
	}
	return 0, errors.New(name + " not found in any standard location")
}

// registerSymbols binds each function pointer, turning purego's panic on a
// missing symbol into an error.
func registerSymbols(handle uintptr, syms map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bind symbol: %v", r)
		}
	}()
	for name, fptr := range syms {
		purego.RegisterLibFunc(fptr, handle, name)
	}
	return nil
}

// findSourceRoot returns the directory of this source file when it is
// available at runtime (tests, go run).
func findSourceRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	dir := filepath.Dir(file)
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err != nil {
		return ""
	}
	return dir
}

// findModuleRoot walks up from the working directory to the directory
// containing go.mod.
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
