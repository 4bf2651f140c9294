// Copyright 2025 Ian Lewis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	// ExitCodeSuccess is successful error code.
	ExitCodeSuccess int = iota

	// ExitCodeFailure is the exit code when some titles could not be read or
	// verification found problems.
	ExitCodeFailure

	// ExitCodeFlagParseError is the exit code for a flag parsing error.
	ExitCodeFlagParseError

	// ExitCodeUnknownError is the exit code for an unknown error.
	ExitCodeUnknownError
)

// ErrWikidx is a parent error for all command errors.
var ErrWikidx = errors.New("wikidx")

// ErrFlagParse is a flag parsing error.
var ErrFlagParse = fmt.Errorf("%w: parsing flags", ErrWikidx)

var copyrightNames = []string{
	"2025 Ian Lewis",
}

// dumpDateRegex matches the dump date in standard dump file names, e.g.
// enwiki-20240101-pages-articles-multistream.xml.bz2.
var dumpDateRegex = regexp.MustCompile(`-(\d{8})-`)

// config is the archive configuration shared by all commands.
type config struct {
	archive string
	index   string
	store   string
	version string
}

// loadConfig reads the global flags. Paths that are not given are derived
// from the archive path.
func loadConfig(c *cli.Context) (*config, error) {
	cfg := &config{
		archive: c.String("archive"),
		index:   c.String("index"),
		store:   c.String("store"),
		version: c.String("dump-version"),
	}
	if cfg.archive == "" {
		return nil, fmt.Errorf("%w: --archive is required", ErrFlagParse)
	}

	base := filepath.Base(cfg.archive)
	if cfg.index == "" {
		stem, ext, ok := cutArchiveExt(base)
		if !ok {
			return nil, fmt.Errorf("%w: --index is required for %q", ErrFlagParse, base)
		}
		cfg.index = filepath.Join(filepath.Dir(cfg.archive), stem+"-index.txt"+ext)
	}
	if cfg.version == "" {
		m := dumpDateRegex.FindStringSubmatch(base)
		if m == nil {
			return nil, fmt.Errorf("%w: --dump-version is required for %q", ErrFlagParse, base)
		}
		cfg.version = m[1]
	}
	if cfg.store == "" {
		dir, err := storeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: --store is required: %w", ErrFlagParse, err)
		}
		cfg.store = filepath.Join(dir, base+".db")
	}
	return cfg, nil
}

// cutArchiveExt splits "name.xml.bz2" into "name" and ".bz2".
func cutArchiveExt(base string) (string, string, bool) {
	ext := filepath.Ext(base)
	stem, ok := strings.CutSuffix(strings.TrimSuffix(base, ext), ".xml")
	return stem, ext, ok && ext != ""
}

// setupLogging configures the standard logger from the --log-level flag.
func setupLogging(c *cli.Context) error {
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("%w: --log-level: %w", ErrFlagParse, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(c.App.ErrWriter)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return nil
}

func newWikidxApp() *cli.App {
	return &cli.App{
		Name:  filepath.Base(os.Args[0]),
		Usage: "Read articles from multistream encyclopedia dumps.",
		Description: strings.Join([]string{
			"Multistream dump indexer and extractor written in Go.",
			"http://github.com/ianlewis/go-multistream",
		}, "\n"),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:      "archive",
				Usage:     "read articles from the multistream archive at `PATH`",
				Aliases:   []string{"a"},
				EnvVars:   []string{"WIKIDX_ARCHIVE"},
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:      "index",
				Usage:     "offset index `PATH` (default: derived from --archive)",
				Aliases:   []string{"i"},
				EnvVars:   []string{"WIKIDX_INDEX"},
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:      "store",
				Usage:     "title index `PATH` (default: in the user cache directory)",
				Aliases:   []string{"s"},
				EnvVars:   []string{"WIKIDX_STORE"},
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:    "dump-version",
				Usage:   "archive `VERSION` (default: the date in the archive name)",
				EnvVars: []string{"WIKIDX_DUMP_VERSION"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "set log `LEVEL` (panic, fatal, error, warn, info, debug, trace)",
				Value:   "info",
				EnvVars: []string{"WIKIDX_LOG_LEVEL"},
			},

			// Special flags are shown at the end.
			&cli.BoolFlag{
				Name:               "version",
				Usage:              "print version information and exit",
				Aliases:            []string{"V"},
				DisableDefaultText: true,
			},
		},
		Copyright:       strings.Join(copyrightNames, "\n"),
		HideHelpCommand: true,
		Before:          setupLogging,
		// Exit codes are handled by main.
		ExitErrHandler: func(*cli.Context, error) {},
		Action: func(c *cli.Context) error {
			if c.Bool("version") {
				return printVersion(c)
			}
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			buildCommand,
			getCommand,
			lookupCommand,
			searchCommand,
			statsCommand,
			verifyCommand,
		},
	}
}
