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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	multistream "github.com/ianlewis/go-multistream"
	"github.com/ianlewis/go-multistream/cache"
	"github.com/ianlewis/go-multistream/page"
)

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "print articles",
	ArgsUsage: "TITLE...",
	Description: "Prints the markup of each article. Titles that cannot be read are\n" +
		"reported and the remaining titles are still printed.",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "jobs",
			Usage:   "read `N` articles concurrently",
			Aliases: []string{"j"},
			Value:   runtime.NumCPU(),
		},
		&cli.IntFlag{
			Name:  "follow-redirects",
			Usage: "follow at most `N` redirects (0 prints redirect pages)",
			Value: multistream.DefaultMaxRedirects,
		},
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "print the article text without markup",
		},
		&cli.BoolFlag{
			Name:  "id",
			Usage: "arguments are article ids instead of titles",
		},
		&cli.StringFlag{
			Name:      "titles-file",
			Usage:     "also read titles from `FILE`, one per line (- for stdin)",
			Aliases:   []string{"f"},
			TakesFile: true,
		},
		&cli.IntFlag{
			Name:  "cache-size",
			Usage: "keep `N` decoded blocks in memory",
			Value: 64,
		},
		&cli.StringFlag{
			Name:      "metrics-file",
			Usage:     "write prometheus metrics to `FILE`",
			TakesFile: true,
		},
	},
	Action: runGet,
}

type getOptions struct {
	byID      bool
	redirects int
	plain     bool
}

func runGet(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	titles, err := readTitles(c)
	if err != nil {
		return err
	}
	if len(titles) == 0 {
		return fmt.Errorf("%w: no titles given", ErrFlagParse)
	}
	gopts := getOptions{
		byID:      c.Bool("id"),
		redirects: c.Int("follow-redirects"),
		plain:     c.Bool("plain"),
	}

	reg := prometheus.NewRegistry()
	opts := &multistream.Options{
		Cache:      cache.New(c.Int("cache-size"), 0),
		Registerer: reg,
		Logger:     logrus.StandardLogger(),
	}

	jobs := max(1, min(c.Int("jobs"), len(titles)))
	readers := make(chan *multistream.Reader, jobs)
	defer func() {
		close(readers)
		for r := range readers {
			r.Close()
		}
	}()
	for range jobs {
		r, err := multistream.Open(cfg.archive, cfg.store, cfg.version, opts)
		if err != nil {
			return err
		}
		readers <- r
	}

	docs := make([]string, len(titles))
	errs := make([]error, len(titles))
	g, ctx := errgroup.WithContext(c.Context)
	g.SetLimit(jobs)
	for i, title := range titles {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := <-readers
			defer func() { readers <- r }()
			docs[i], errs[i] = getOne(r, title, gopts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var failed int
	for i, title := range titles {
		if err := errs[i]; err != nil {
			failed++
			log := logrus.WithField("title", title)
			if errors.Is(err, multistream.ErrTitleNotFound) || errors.Is(err, page.ErrDocumentNotFound) {
				log.Warn("not found")
			} else {
				log.WithError(err).Error("reading article")
			}
			continue
		}
		fmt.Fprintln(c.App.Writer, docs[i])
	}

	if path := c.String("metrics-file"); path != "" {
		if err := prometheus.WriteToTextfile(path, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d articles could not be read", failed, len(titles)), ExitCodeFailure)
	}
	return nil
}

func getOne(r *multistream.Reader, query string, opts getOptions) (string, error) {
	var p *page.Page
	var err error
	switch {
	case opts.byID:
		id, perr := strconv.ParseUint(query, 10, 64)
		if perr != nil {
			return "", fmt.Errorf("invalid id %q: %w", query, perr)
		}
		p, err = r.PageByID(id)
	case opts.redirects > 0:
		p, err = r.Resolve(query, opts.redirects)
	default:
		p, err = r.Page(query)
	}
	if err != nil {
		return "", err
	}

	if opts.plain {
		return p.PlainText(), nil
	}
	return p.String(), nil
}

// readTitles returns the titles given as arguments followed by the titles
// in the --titles-file. Blank lines and lines starting with # are ignored.
func readTitles(c *cli.Context) ([]string, error) {
	titles := c.Args().Slice()

	path := c.String("titles-file")
	if path == "" {
		return titles, nil
	}

	var r io.Reader
	if path == "-" {
		r = c.App.Reader
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening titles: %w", err)
		}
		defer f.Close()
		r = f
	}

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		titles = append(titles, line)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("reading titles: %w", err)
	}
	return titles, nil
}
