// Package config holds build-time configuration for the PIR database
// builder: an optional block-size override, the skip-list of high-traffic
// addresses excluded from the address indices, and logging verbosity.
// Adapted from the teacher's JSON-backed DBConfig — but unlike that
// long-lived, process-wide singleton, BuildConfig here is a plain value
// owned by a single CLI invocation; there is no server process for a
// singleton to usefully outlive.
package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// BuildConfig carries the knobs a single build_pir_databases run needs.
type BuildConfig struct {
	// BlockSizeOverride, if non-zero, fixes the transaction database's
	// block size instead of deriving it from total payload size.
	BlockSizeOverride uint64 `json:"block_size_override"`
	// Verbose gates the per-address block-count trace log.
	Verbose bool `json:"verbose"`
	// LogLevel is one of zap's level names ("debug", "info", "warn",
	// "error"); defaults to "info".
	LogLevel string `json:"log_level"`
}

// Default returns the configuration used when no JSON config file and no
// CLI flags override it.
func Default() BuildConfig {
	return BuildConfig{
		BlockSizeOverride: 0,
		Verbose:           false,
		LogLevel:          "info",
	}
}

// LoadFile reads a JSON-encoded BuildConfig from path, starting from
// Default() so a partial file only overrides the fields it sets.
func LoadFile(path string) (BuildConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config file %s", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that can never produce a usable build.
func (c BuildConfig) Validate() error {
	if c.BlockSizeOverride != 0 && c.BlockSizeOverride <= 4 {
		return fmt.Errorf("block_size_override must be 0 (auto) or greater than 4, got %d", c.BlockSizeOverride)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// defaultSkipListSeeds holds the same known high-traffic addresses the original
// implementation hard-coded, padded/truncated to 35 bytes since this system
// is no longer Bitcoin-specific and no longer validates address charset.
var defaultSkipListSeeds = []string{
	"001VayNert3x1KzbpzMGt2qdqrAThiRovi8",
	"001dice97ECuByXAvqXpaYzSaQuPVvrtmz6",
	"0012tGCHHVqRs4A1nrdTuK7FZzGd9vzXS8F",
	"0013FYgQbyNFAoQQqmMZDuXfEgGhAa4jMKb",
	"001LfV2WYPCXa9v7P3LQUaFNePdkY2Pt4r",
	"001NxaBSFqN1r7XNX2qwoNBCsSFNY5J1wp",
	"0011cUTn8D9rnkkmNGKDp8g25HtbjsdqEV",
	"001LVwJHs3PHo9ygJRWnRtFcxkRSzTTYZB",
	"0018jmvB9LqZe2DpA5c1d85sNT9uacNupB",
	"001MPSbsMwP3rieg4ZBgKZxQZKBh1xNoEV",
	"001Jp4ZrHdBs4b5Z8wcyfGkSn9euq1TMGe",
}

// DefaultSkipList returns the built-in skip-list as 35-byte address
// placeholders, derived by left-padding each seed string with zero bytes.
func DefaultSkipList() [][]byte {
	const addrLen = 35
	out := make([][]byte, len(defaultSkipListSeeds))
	for i, s := range defaultSkipListSeeds {
		b := make([]byte, addrLen)
		src := []byte(s)
		if len(src) > addrLen {
			src = src[:addrLen]
		}
		copy(b[addrLen-len(src):], src)
		out[i] = b
	}
	return out
}

// LoadSkipList reads one address per line from path. Blank lines are
// skipped; no charset or length validation is performed here, matching the
// address-agnostic Non-goal the rest of the system honors.
func LoadSkipList(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open skip-list file %s", path)
	}
	defer f.Close()

	var out [][]byte
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		out = append(out, []byte(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read skip-list file %s", path)
	}
	return out, nil
}
