package finalize

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// Config struct
type Config struct {
	Values          map[string]string
	StripTool       string
	StrippedDir     string
	SharedToolchain string
	VariantsFile    string
	UploadJobs      int
}

// Load the KEY=VALUE config file (if any) and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config %s: %w", path, err)
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge FINALIZE_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge FINALIZE_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "FINALIZE_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	Debug = cfg.Values["FINALIZE_DEBUG"] == "1"
	Verbose = cfg.Values["FINALIZE_VERBOSE"] == "1"

	switch cfg.Values["FINALIZE_COLOR"] {
	case "always":
		color.Enable = true
	case "never":
		color.Enable = false
	default:
		color.Enable = term.IsTerminal(int(os.Stdout.Fd()))
	}

	cfg.StripTool = cfg.Values["FINALIZE_STRIP"]
	if cfg.StripTool == "" {
		cfg.StripTool = "strip"
	}

	cfg.StrippedDir = cfg.Values["FINALIZE_STRIPPED_DIR"]
	if cfg.StrippedDir == "" {
		cfg.StrippedDir = StrippedDir
	}

	cfg.SharedToolchain = cfg.Values["FINALIZE_SHARED_TOOLCHAIN"]
	if cfg.SharedToolchain == "" {
		cfg.SharedToolchain = "shared"
	}

	cfg.VariantsFile = cfg.Values["FINALIZE_VARIANTS"]

	cfg.UploadJobs = 4
	if jobs := cfg.Values["FINALIZE_UPLOAD_JOBS"]; jobs != "" {
		n, err := strconv.Atoi(jobs)
		if err != nil || n < 1 {
			colArrow.Print("-> ")
			colWarn.Printf("Warning: ignoring invalid FINALIZE_UPLOAD_JOBS=%q\n", jobs)
		} else {
			cfg.UploadJobs = n
		}
	}
}
