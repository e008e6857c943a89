// Command heapbench is the script-file runner and utilization driver
// spec §1 names as an external collaborator: it loads one or more
// script files (spec §6), runs each against a fresh heap of the
// chosen index variant, and reports pass/fail plus the utilization
// metric.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/alloclab/heapkit/internal/allocator"
	"github.com/alloclab/heapkit/internal/allocator/script"
	"github.com/alloclab/heapkit/internal/cli"
)

type scriptResult struct {
	File        string  `json:"file"`
	Passed      bool    `json:"passed"`
	Utilization float64 `json:"utilization"`
	Error       string  `json:"error,omitempty"`
}

func main() {
	var (
		quiet       bool
		jsonOut     bool
		csvOut      bool
		watch       bool
		debug       bool
		mmap        bool
		version     bool
		helpRun     bool
		indexName   string
		segmentMiB  int
		configPath  string
		saveConfig  string
	)

	fs := flag.NewFlagSet("heapbench", flag.ExitOnError)
	fs.BoolVar(&quiet, "q", false, "suppress per-op payload and validate_heap checks")
	fs.BoolVar(&jsonOut, "json", false, "print a JSON summary instead of text")
	fs.BoolVar(&csvOut, "csv", false, "print a gnuplot-friendly CSV utilization table")
	fs.BoolVar(&watch, "watch", false, "re-run the given scripts whenever they change on disk")
	fs.BoolVar(&debug, "debug", false, "enable per-op debug logging")
	fs.BoolVar(&mmap, "mmap", false, "back each heap with a real anonymous mapping instead of a Go-heap slice")
	fs.BoolVar(&version, "version", false, "print version information and exit")
	fs.BoolVar(&helpRun, "help-run", false, "print detailed usage for the run command and exit")
	fs.StringVar(&indexName, "index", "segfit", "segfit | rbtree-bottomup | rbtree-topdown")
	fs.IntVar(&segmentMiB, "segment-mib", 1, "segment size in MiB")
	fs.StringVar(&configPath, "config", "", "load defaults (verbose/debug/work_dir) from a JSON config file")
	fs.StringVar(&saveConfig, "save-config", "", "write the active configuration to this path and exit")
	fs.Usage = func() {
		cli.PrintUsage("heapbench", []cli.CommandInfo{
			{Name: "<scripts...>", Description: "run one or more .script files against a fresh heap"},
		})
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		cli.ExitWithError("%v", err)
	}

	if version {
		cli.PrintVersion("heapbench", jsonOut)
		cli.ExitWithCode(0, "")
	}

	if helpRun {
		cli.PrintCommandUsage("heapbench", cli.CommandInfo{
			Name:        "run",
			Usage:       "heapbench [OPTIONS] <scripts...>",
			Description: "run one or more .script files against a fresh heap",
			Flags: []cli.FlagInfo{
				{Name: "index", Usage: "free-block index variant", Default: "segfit"},
				{Name: "segment-mib", Usage: "segment size in MiB", Default: "1"},
				{Name: "mmap", Usage: "back the segment with an anonymous mapping"},
				{Name: "watch", Usage: "re-run scripts on change"},
			},
			Examples: []string{"heapbench -index rbtree-topdown stress.script"},
		})
		cli.ExitWithCode(0, "")
	}

	cfg, err := cli.LoadConfig(configPath)
	logger := cli.NewLogger(!quiet, debug)
	cli.HandleError(err, logger)
	if cfg.Verbose {
		logger.Verbose = true
	}
	if cfg.Debug {
		logger.DebugMode = true
	}

	if saveConfig != "" {
		out := &cli.Config{Verbose: logger.Verbose, Debug: logger.DebugMode, ConfigFile: configPath, WorkDir: cfg.WorkDir}
		cli.HandleError(out.SaveConfig(saveConfig), logger)
		cli.ExitWithCode(0, "")
	}

	files := fs.Args()
	if err := cli.ValidateArgs(files, 1, "heapbench [OPTIONS] <scripts...>"); err != nil {
		cli.ExitWithError("%v", err)
	}

	style, err := parseStyle(indexName)
	if err != nil {
		cli.ExitWithError("%v", err)
	}

	run := func() int { return runAll(files, style, quiet, jsonOut, csvOut, segmentMiB, mmap, logger) }

	if !watch {
		cli.ExitWithCode(run(), "")
	}
	if err := watchAndRun(files, run); err != nil {
		cli.ExitWithError("%v", err)
	}
}

func parseStyle(name string) (allocator.Style, error) {
	switch name {
	case "segfit":
		return allocator.SegFit, nil
	case "rbtree-bottomup":
		return allocator.RBTreeBottomUp, nil
	case "rbtree-topdown":
		return allocator.RBTreeTopDown, nil
	default:
		return 0, fmt.Errorf("unknown -index value %q", name)
	}
}

// runAll runs every script and returns the failure count, which spec
// §6 makes the process exit code.
func runAll(files []string, style allocator.Style, quiet, jsonOut, csvOut bool, segmentMiB int, mmap bool, logger *cli.Logger) int {
	results := make([]scriptResult, 0, len(files))
	failed := 0

	for _, f := range files {
		res := runOne(f, style, quiet, segmentMiB, mmap, logger)
		if !res.Passed {
			failed++
		}
		results = append(results, res)
	}

	switch {
	case jsonOut:
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			cli.ExitWithError("marshal results: %v", err)
		}
		fmt.Println(string(data))
	case csvOut:
		fmt.Println("file,passed,utilization")
		for _, r := range results {
			fmt.Printf("%s,%t,%.4f\n", r.File, r.Passed, r.Utilization)
		}
	default:
		for _, r := range results {
			status := "ok"
			if !r.Passed {
				status = "FAIL: " + r.Error
			}
			fmt.Printf("%-40s %-8s utilization=%.2f%%\n", r.File, status, r.Utilization*100)
		}
	}

	return failed
}

func runOne(path string, style allocator.Style, quiet bool, segmentMiB int, mmap bool, logger *cli.Logger) scriptResult {
	res := scriptResult{File: path}

	f, err := os.Open(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer f.Close()

	ops, err := script.Parse(filepath.Base(path), f)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if len(ops) == 0 {
		logger.Warn("%s parsed with no operations", path)
	}

	al, release, err := newAllocator(style, segmentMiB, mmap)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if release != nil {
		defer release()
	}

	h := script.NewHarness(al, quiet)
	logger.Info("running %s (%d ops)", path, len(ops))
	logger.Debug("%s: index=%T segment=%dMiB mmap=%t", path, al.Index(), segmentMiB, mmap)
	if err := h.Run(ops); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Passed = true
	res.Utilization = h.Utilization()
	return res
}

// newAllocator builds a fresh heap of the given size and style, either
// over a plain Go-heap slice or, with mmap set, over a real anonymous
// mapping acquired through segment.MmapProvider. release is non-nil
// only in the mmap case and must be deferred by the caller.
func newAllocator(style allocator.Style, segmentMiB int, mmap bool) (*allocator.Allocator, func() error, error) {
	if mmap {
		return allocator.NewMmap(segmentMiB<<20, allocator.WithStyle(style))
	}
	al, err := allocator.New(make([]byte, segmentMiB<<20), allocator.WithStyle(style))
	return al, nil, err
}

// watchAndRun re-invokes run whenever one of files changes on disk,
// using fsnotify the same way internal/runtime/vfs watches source
// files for the compiler.
func watchAndRun(files []string, run func() int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, f := range files {
		if err := watcher.Add(f); err != nil {
			return err
		}
	}

	run()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				run()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}
