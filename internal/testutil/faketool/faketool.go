// Package faketool is a scriptable stand-in for clip_tool.
//
// Test binaries re-execute themselves as the tool: TestMain calls
// RunIfRequested, and tests point the session or builder at Enable's
// resolver. Behavior is driven by the request prompt and a few env vars.
//
// search mode prompts:
//
//	"empty"      reply with an empty line
//	"exit"       exit 0 without replying
//	"crash"      exit 3 without replying
//	"hang"       never reply
//	"threshold"  reply with the received threshold as the only identifier
//	"junk"       reply with a line that is not a path list
//	anything     reply with topK identifiers "<prompt>-<i>.png"
//
// process mode emits diagnostic noise, one progress marker per image, and
// writes a text index listing the images.
package faketool

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Aman-CERP/clipbridge/internal/protocol"
)

// Environment switches.
const (
	EnvEnable = "CLIPBRIDGE_FAKE_TOOL"
	// EnvFailBuild makes process mode exit 3 after the first progress marker.
	EnvFailBuild = "CLIPBRIDGE_FAKE_FAIL_BUILD"
	// EnvHangBuild makes process mode stall after the first progress marker.
	EnvHangBuild = "CLIPBRIDGE_FAKE_HANG_BUILD"
	// EnvStaleProgress repeats a lower progress count after the second marker.
	EnvStaleProgress = "CLIPBRIDGE_FAKE_STALE_PROGRESS"
	// EnvStepDelay sleeps between build markers and before each search reply.
	EnvStepDelay = "CLIPBRIDGE_FAKE_DELAY"
	// EnvExitAfter exits search mode after N replies.
	EnvExitAfter = "CLIPBRIDGE_FAKE_EXIT_AFTER"
)

// RunIfRequested turns the current process into the fake tool when EnvEnable
// is set, and never returns in that case.
func RunIfRequested() {
	if os.Getenv(EnvEnable) != "1" {
		return
	}
	os.Exit(Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// Resolver is a fixed locator for tests.
type Resolver struct {
	Path      string
	IndexPath string
	Err       error
}

// ResolveExecutablePath returns Path or Err.
func (r Resolver) ResolveExecutablePath() (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	return r.Path, nil
}

// DefaultIndexPath returns IndexPath.
func (r Resolver) DefaultIndexPath() string {
	return r.IndexPath
}

// Enable arranges for children spawned by t to run the fake tool and returns
// a resolver pointing at the test binary with an index under t.TempDir().
func Enable(t testing.TB) Resolver {
	t.Helper()
	t.Setenv(EnvEnable, "1")

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return Resolver{
		Path:      exe,
		IndexPath: filepath.Join(t.TempDir(), "index", "index.pt"),
	}
}

// Install enables the fake tool and places the test binary where a locator
// rooted at root finds it: <root>/clipunity-v1.0.0/<platform>/clip_tool. It
// skips on platforms without symlinks or a known platform folder.
func Install(t testing.TB, root string) string {
	t.Helper()
	r := Enable(t)

	var platform string
	switch runtime.GOOS {
	case "linux":
		platform = "linux"
	case "darwin":
		platform = "mac"
	default:
		t.Skipf("fake install not supported on %s", runtime.GOOS)
	}

	dir := filepath.Join(root, "clipunity-v1.0.0", platform)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create package dir: %v", err)
	}
	exe := filepath.Join(dir, "clip_tool")
	if err := os.Symlink(r.Path, exe); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	return exe
}

// WriteImages creates n empty .png files (plus a few non-images) in a new temp dir.
func WriteImages(t testing.TB, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		ext := []string{".png", ".jpg", ".JPEG"}[i%3]
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("img%03d%s", i, ext)), nil, 0o644); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	_ = os.Mkdir(filepath.Join(dir, "nested.png"), 0o755)
	return dir
}

// Run executes the fake tool and returns its exit code.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: clip_tool process|search ...")
		return 2
	}
	switch args[0] {
	case protocol.VerbProcess:
		if len(args) != 3 {
			fmt.Fprintln(stderr, "usage: clip_tool process <dir> <index>")
			return 2
		}
		return runProcess(args[1], args[2], stdout, stderr)
	case protocol.VerbSearch:
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: clip_tool search <index>")
			return 2
		}
		return runSearch(stdin, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown verb %q\n", args[0])
		return 2
	}
}

func stepDelay() time.Duration {
	d, _ := time.ParseDuration(os.Getenv(EnvStepDelay))
	return d
}

func runProcess(dir, indexPath string, stdout, stderr io.Writer) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(stderr, "cannot read %s: %v\n", dir, err)
		return 1
	}

	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			images = append(images, e.Name())
		}
	}
	sort.Strings(images)

	w := bufio.NewWriter(stdout)
	emit := func(s string) {
		fmt.Fprintln(w, s)
		_ = w.Flush()
	}

	emit("loading model ViT-B/32")
	emit("garbage:7/20")
	emit(protocol.ProgressPrefix + "notanumber/20")

	total := len(images)
	for i := range images {
		if d := stepDelay(); d > 0 {
			time.Sleep(d)
		}
		emit(protocol.FormatProgress(i+1, total) + "\r")
		if i == 0 {
			if os.Getenv(EnvFailBuild) == "1" {
				fmt.Fprintln(stderr, "model crashed")
				return 3
			}
			if os.Getenv(EnvHangBuild) == "1" {
				time.Sleep(time.Hour)
			}
		}
		if i == 1 && os.Getenv(EnvStaleProgress) == "1" {
			emit(protocol.FormatProgress(1, total))
		}
	}
	emit("done")

	if err := os.WriteFile(indexPath, []byte(strings.Join(images, "\n")), 0o644); err != nil {
		fmt.Fprintf(stderr, "write index: %v\n", err)
		return 1
	}
	return 0
}

func runSearch(stdin io.Reader, stdout, stderr io.Writer) int {
	fmt.Fprintln(stderr, "index loaded")

	exitAfter, _ := strconv.Atoi(os.Getenv(EnvExitAfter))
	replies := 0

	in := bufio.NewScanner(stdin)
	in.Buffer(make([]byte, 64*1024), 1024*1024)
	for in.Scan() {
		fields := strings.Split(in.Text(), protocol.FieldSeparator)
		if len(fields) != 3 {
			fmt.Fprintln(stdout)
			continue
		}
		prompt, threshold := fields[0], fields[2]
		topK, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintln(stdout)
			continue
		}

		if d := stepDelay(); d > 0 {
			time.Sleep(d)
		}

		switch prompt {
		case "empty":
			fmt.Fprintln(stdout)
		case "exit":
			return 0
		case "crash":
			return 3
		case "hang":
			time.Sleep(time.Hour)
			return 0
		case "threshold":
			fmt.Fprintln(stdout, threshold)
		case "junk":
			fmt.Fprintln(stdout, "warning: something odd\r")
		default:
			ids := make([]string, topK)
			for i := range ids {
				ids[i] = fmt.Sprintf("%s-%d.png", prompt, i)
			}
			fmt.Fprintln(stdout, strings.Join(ids, protocol.ResultSeparator))
		}

		replies++
		if exitAfter > 0 && replies >= exitAfter {
			return 0
		}
	}
	return 0
}
