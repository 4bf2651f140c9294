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
	"fmt"
	"strconv"

	"github.com/rodaine/table"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ianlewis/go-multistream/store"
)

var lookupCommand = &cli.Command{
	Name:      "lookup",
	Usage:     "print the block ranges of titles",
	ArgsUsage: "TITLE...",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "id",
			Usage: "arguments are article ids instead of titles",
		},
	},
	Action: func(c *cli.Context) error {
		args := c.Args().Slice()
		if len(args) == 0 {
			return fmt.Errorf("%w: no titles given", ErrFlagParse)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		tbl := table.New("Title", "ID", "Start", "End", "Size").WithWriter(c.App.Writer)
		var missing int
		for _, arg := range args {
			title, e, ok, err := lookup(s, arg, c.Bool("id"))
			if err != nil {
				return err
			}
			if !ok {
				logrus.WithField("query", arg).Warn("not found")
				missing++
				continue
			}
			tbl.AddRow(title, e.ID, e.Start, e.End, e.End-e.Start)
		}
		tbl.Print()

		if missing > 0 {
			return cli.Exit(fmt.Sprintf("%d of %d not found", missing, len(args)), ExitCodeFailure)
		}
		return nil
	},
}

func lookup(s *store.Store, arg string, byID bool) (string, store.Entry, bool, error) {
	if !byID {
		e, ok, err := s.Lookup(arg)
		return arg, e, ok, err
	}

	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return "", store.Entry{}, false, fmt.Errorf("%w: invalid id %q", ErrFlagParse, arg)
	}
	e, ok, err := s.EntryByID(id)
	if err != nil || !ok {
		return "", e, ok, err
	}
	title, _, err := s.LookupByID(id)
	return title, e, true, err
}

var searchCommand = &cli.Command{
	Name:      "search",
	Usage:     "search titles ignoring case, spacing and underscores",
	ArgsUsage: "QUERY",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Usage:   "print at most `N` titles (0 for no limit)",
			Aliases: []string{"n"},
			Value:   5,
		},
		&cli.BoolFlag{
			Name:  "exact",
			Usage: "only print titles equal to the query",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("%w: expected one query", ErrFlagParse)
		}
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		var titles []string
		if c.Bool("exact") {
			titles, err = s.LookupFolded(c.Args().First())
		} else {
			titles, err = s.SearchPrefix(c.Args().First(), c.Int("limit"))
		}
		if err != nil {
			return err
		}
		for _, t := range titles {
			fmt.Fprintln(c.App.Writer, t)
		}
		if len(titles) == 0 {
			return cli.Exit("no matching titles", ExitCodeFailure)
		}
		return nil
	},
}
