// Package config manages runtime configuration from a YAML file, environment
// variables and flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/euforicio/pagefix/internal/enhance"
)

const (
	envPrefix = "PAGEFIX_"

	// FileName is looked up in the root directory when no config file is given.
	FileName = ".pagefix.yaml"

	// HighlighterNone leaves highlighting to the browser.
	HighlighterNone = "none"
	// HighlighterChroma highlights code blocks while processing.
	HighlighterChroma = "chroma"
)

// ErrUnknownHighlighter is returned for highlighter names other than none and chroma.
var ErrUnknownHighlighter = errors.New("unknown highlighter")

// Config holds runtime configuration for a processing run.
type Config struct {
	RootDir     string
	OutputDir   string
	ConfigFile  string
	Highlighter string
	Style       string
	CSSOut      string
	Include     []string
	Exclude     []string
	Markers     enhance.Markers
	Workers     int
	Watch       bool
	Stdin       bool
	Fragment    bool
	Strict      bool
	DryRun      bool
	Verbose     bool
}

// Default returns ready-to-use defaults prior to file/env/flag overrides.
func Default() Config {
	return Config{
		RootDir:     ".",
		Highlighter: HighlighterNone,
		Include:     []string{"**/*.html", "**/*.htm"},
		Markers:     enhance.DefaultMarkers(),
		Workers:     0, // 0 = GOMAXPROCS
	}
}

// RegisterFlags attaches configuration flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "root directory of the generated site")
	fs.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "write processed pages to this directory instead of in place")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file (default: <root>/"+FileName+" when present)")
	fs.StringSliceVar(&cfg.Include, "include", cfg.Include, "glob patterns selecting pages, relative to root")
	fs.StringSliceVar(&cfg.Exclude, "exclude", cfg.Exclude, "glob patterns excluding pages, relative to root")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "pages processed concurrently (0 = number of CPUs)")
	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "keep running and re-process pages as they change")
	fs.BoolVar(&cfg.Stdin, "stdin", cfg.Stdin, "process a single page from stdin and write it to stdout")
	fs.BoolVar(&cfg.Fragment, "fragment", cfg.Fragment, "treat stdin as a body fragment rather than a full document")
	fs.StringVar(&cfg.Highlighter, "highlighter", cfg.Highlighter, "syntax highlighter: none (browser-side) or chroma")
	fs.StringVar(&cfg.Style, "style", cfg.Style, "chroma style used by the chroma highlighter")
	fs.StringVar(&cfg.CSSOut, "css-out", cfg.CSSOut, "write the chroma stylesheet to this file")
	fs.BoolVar(&cfg.Strict, "strict", cfg.Strict, "fail pages whose tab items and panes differ in number")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "report what would change without writing")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging")
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("ROOT", func(v string) { cfg.RootDir = v })
	applyStringEnv("OUT", func(v string) { cfg.OutputDir = v })
	applyStringEnv("CONFIG", func(v string) { cfg.ConfigFile = v })
	applyIntEnv("WORKERS", func(v int) { cfg.Workers = v })
	applyBoolEnv("WATCH", func(v bool) { cfg.Watch = v })
	applyStringEnv("HIGHLIGHTER", func(v string) { cfg.Highlighter = v })
	applyStringEnv("STYLE", func(v string) { cfg.Style = v })
	applyBoolEnv("STRICT", func(v bool) { cfg.Strict = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// fileConfig mirrors the YAML layout. Pointers distinguish absent keys.
type fileConfig struct {
	Include     []string         `yaml:"include"`
	Exclude     []string         `yaml:"exclude"`
	Workers     *int             `yaml:"workers"`
	Highlighter *string          `yaml:"highlighter"`
	Style       *string          `yaml:"style"`
	Strict      *bool            `yaml:"strict"`
	Markers     *enhance.Markers `yaml:"markers"`
}

// LoadFile merges the YAML file at path into cfg. Marker keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	markers := cfg.Markers
	fc := fileConfig{Markers: &markers}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	if fc.Include != nil {
		cfg.Include = fc.Include
	}
	if fc.Exclude != nil {
		cfg.Exclude = fc.Exclude
	}
	if fc.Workers != nil {
		cfg.Workers = *fc.Workers
	}
	if fc.Highlighter != nil {
		cfg.Highlighter = *fc.Highlighter
	}
	if fc.Style != nil {
		cfg.Style = *fc.Style
	}
	if fc.Strict != nil {
		cfg.Strict = *fc.Strict
	}
	cfg.Markers = markers
	return nil
}

// Load resolves configuration for the named command from args: defaults, then
// the config file, then PAGEFIX_* variables, then flags. Flags are parsed twice
// so that --config and --root can locate the file before the final pass.
func Load(name string, args []string, extra func(*pflag.FlagSet)) (Config, *pflag.FlagSet, error) {
	peek := Default()
	ApplyEnvOverrides(&peek)
	peekFlags := newFlagSet(name, &peek, extra)
	peekFlags.SetOutput(io.Discard)
	// Help is reported by the final parse, which prints usage.
	if err := peekFlags.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return Config{}, nil, err
	}

	cfg := Default()
	path, explicit := peek.ConfigFile, peek.ConfigFile != ""
	if !explicit {
		path = filepath.Join(peek.RootDir, FileName)
	}
	if _, err := os.Stat(path); err == nil {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, nil, err
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return Config{}, nil, fmt.Errorf("stat config: %w", err)
	}
	ApplyEnvOverrides(&cfg)

	fs := newFlagSet(name, &cfg, extra)
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}
	return cfg, fs, nil
}

func newFlagSet(name string, cfg *Config, extra func(*pflag.FlagSet)) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	RegisterFlags(fs, cfg)
	if extra != nil {
		extra(fs)
	}
	return fs
}

// Finalize validates and normalizes paths.
func Finalize(cfg *Config) error {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root directory: %w", err)
	}
	cfg.RootDir = root

	if cfg.OutputDir != "" {
		out, err := filepath.Abs(cfg.OutputDir)
		if err != nil {
			return fmt.Errorf("resolve output directory: %w", err)
		}
		if out == root {
			out = ""
		}
		cfg.OutputDir = out
	}

	if cfg.Workers < 0 {
		return fmt.Errorf("invalid workers: %d", cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	cfg.Highlighter = strings.ToLower(strings.TrimSpace(cfg.Highlighter))
	switch cfg.Highlighter {
	case "":
		cfg.Highlighter = HighlighterNone
	case HighlighterNone, HighlighterChroma:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownHighlighter, cfg.Highlighter)
	}

	if len(cfg.Include) == 0 {
		cfg.Include = Default().Include
	}
	if cfg.Fragment && !cfg.Stdin {
		return errors.New("--fragment requires --stdin")
	}
	if cfg.Watch && cfg.Stdin {
		return errors.New("--watch and --stdin are mutually exclusive")
	}

	return cfg.Markers.Validate()
}
