// Package locator finds the installed clip_tool binary and the default index path.
//
// Installations live under a root directory as versioned package folders:
//
//	<root>/clipunity-v1.2.0/mac/clip_tool
//	<root>/clipunity-v1.2.0/win/clip_tool.exe
//	<root>/clipunity-v1.2.0/linux/clip_tool
//
// The lexicographically greatest package folder (case-insensitive) wins.
package locator

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

const (
	// DefaultDirPattern matches versioned package folders.
	DefaultDirPattern = "clipunity-*"
	// IndexFileName is the fixed name of the serialized index.
	IndexFileName = "index.pt"
	// BinaryName is the executable name without platform suffix.
	BinaryName = "clip_tool"
)

// Resolver is what the builder and session need from a locator.
type Resolver interface {
	ResolveExecutablePath() (string, error)
	DefaultIndexPath() string
}

// platform describes where one OS keeps its binary inside a package folder.
type platform struct {
	// dirs are candidate folder names, primary first.
	dirs   []string
	binary string
}

var platforms = map[string]platform{
	"darwin":  {dirs: []string{"mac", "macos"}, binary: BinaryName},
	"windows": {dirs: []string{"win", "windows"}, binary: BinaryName + ".exe"},
	"linux":   {dirs: []string{"linux"}, binary: BinaryName},
}

// Locator resolves paths for one installation root. It holds no state beyond
// its configuration and is safe for concurrent use.
type Locator struct {
	// Root contains the versioned package folders.
	Root string
	// DirPattern selects package folders (path.Match syntax, case-insensitive).
	DirPattern string
	// DataDir is the writable per-user directory holding the index.
	DataDir string
	// GOOS overrides runtime.GOOS.
	GOOS string

	// For testing
	fileExists func(path string) bool
}

// New creates a locator for the given root and data directory.
func New(root, dataDir string) *Locator {
	return &Locator{
		Root:       root,
		DirPattern: DefaultDirPattern,
		DataDir:    dataDir,
		GOOS:       runtime.GOOS,
		fileExists: fileExists,
	}
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// SupportedPlatform reports whether goos has a clip_tool build.
func SupportedPlatform(goos string) bool {
	_, ok := platforms[goos]
	return ok
}

// DefaultIndexPath returns <DataDir>/index/index.pt. It does not check existence;
// writers create the parent directory.
func (l *Locator) DefaultIndexPath() string {
	return filepath.Join(l.DataDir, "index", IndexFileName)
}

// ResolveExecutablePath returns the binary path for the current OS inside the
// newest package folder. When no platform folder exists on disk the primary
// candidate is returned anyway, so the spawn reports the real problem.
func (l *Locator) ResolveExecutablePath() (string, error) {
	plat, ok := platforms[l.goos()]
	if !ok {
		return "", cberrors.New(cberrors.ErrCodeUnsupportedPlatform,
			fmt.Sprintf("clip_tool is not available for %s", l.goos()), nil).
			WithDetail("goos", l.goos())
	}

	pkgDir, err := l.PackageDir()
	if err != nil {
		return "", err
	}

	candidates := make([]string, 0, len(plat.dirs))
	for _, d := range plat.dirs {
		candidates = append(candidates, filepath.Join(pkgDir, d, plat.binary))
	}
	exists := l.fileExists
	if exists == nil {
		exists = fileExists
	}
	for _, c := range candidates {
		if exists(c) {
			return c, nil
		}
	}
	return candidates[0], nil
}

// PackageDir returns the newest package folder under Root.
func (l *Locator) PackageDir() (string, error) {
	info, err := os.Stat(l.Root)
	if err != nil || !info.IsDir() {
		return "", cberrors.New(cberrors.ErrCodeNotInstalled,
			fmt.Sprintf("tool root not found: %s", l.Root), err).
			WithDetail("root", l.Root)
	}

	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return "", cberrors.New(cberrors.ErrCodeNotInstalled,
			fmt.Sprintf("cannot read tool root %s", l.Root), err)
	}

	pattern := strings.ToLower(l.pattern())
	var matches []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ok, err := path.Match(pattern, strings.ToLower(e.Name()))
		if err != nil {
			return "", cberrors.ConfigError(fmt.Sprintf("invalid dir pattern %q", l.pattern()), err)
		}
		if ok {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return "", cberrors.New(cberrors.ErrCodeNotInstalled,
			fmt.Sprintf("no folder matching %q under %s", l.pattern(), l.Root), nil).
			WithDetail("root", l.Root)
	}

	sort.Slice(matches, func(i, j int) bool {
		return strings.ToUpper(matches[i]) < strings.ToUpper(matches[j])
	})
	return filepath.Join(l.Root, matches[len(matches)-1]), nil
}

func (l *Locator) goos() string {
	if l.GOOS == "" {
		return runtime.GOOS
	}
	return l.GOOS
}

func (l *Locator) pattern() string {
	if l.DirPattern == "" {
		return DefaultDirPattern
	}
	return l.DirPattern
}

// Report summarizes what the locator sees, for diagnostics.
type Report struct {
	Root        string `json:"root"`
	GOOS        string `json:"goos"`
	Supported   bool   `json:"supported"`
	PackageDir  string `json:"package_dir,omitempty"`
	Executable  string `json:"executable,omitempty"`
	Exists      bool   `json:"exists"`
	ExecBit     bool   `json:"executable_bit"`
	IndexPath   string `json:"index_path"`
	IndexExists bool   `json:"index_exists"`
	Error       string `json:"error,omitempty"`
}

// Describe resolves everything it can and records the first failure.
func (l *Locator) Describe() Report {
	r := Report{
		Root:      l.Root,
		GOOS:      l.goos(),
		Supported: SupportedPlatform(l.goos()),
		IndexPath: l.DefaultIndexPath(),
	}
	r.IndexExists = fileExists(r.IndexPath)

	if pkg, err := l.PackageDir(); err == nil {
		r.PackageDir = pkg
	}

	exe, err := l.ResolveExecutablePath()
	if err != nil {
		r.Error = cberrors.FormatForUser(err)
		return r
	}
	r.Executable = exe
	if info, err := os.Stat(exe); err == nil {
		r.Exists = true
		r.ExecBit = l.goos() == "windows" || info.Mode()&0o111 != 0
	}
	return r
}
