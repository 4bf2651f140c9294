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
	"io"
	"time"

	"github.com/rodaine/table"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	multistream "github.com/ianlewis/go-multistream"
	"github.com/ianlewis/go-multistream/store"
)

var buildCommand = &cli.Command{
	Name:  "build",
	Usage: "build the title index of an archive",
	Description: "Builds the title index from the offset index unless an index for the\n" +
		"same archive path and version already exists.",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "force",
			Usage: "rebuild even if the title index is up to date",
		},
		&cli.BoolFlag{
			Name:  "digest",
			Usage: "record the archive digest so it can be verified later (implies --force)",
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "write `N` titles per transaction",
			Value: store.DefaultBatchSize,
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		opts := &multistream.BuildOptions{
			BatchSize: c.Int("batch-size"),
			Digest:    c.Bool("digest"),
			Logger:    logrus.StandardLogger(),
		}

		var s *store.Store
		if c.Bool("force") || c.Bool("digest") {
			s, err = multistream.Build(cfg.index, cfg.archive, cfg.store, cfg.version, opts)
		} else {
			var built bool
			s, built, err = multistream.EnsureStore(cfg.index, cfg.archive, cfg.store, cfg.version, opts)
			if err == nil && !built {
				logrus.WithField("store", cfg.store).Info("title index is up to date")
			}
		}
		if err != nil {
			return err
		}
		defer s.Close()

		printStats(c.App.Writer, s)
		return nil
	},
}

var statsCommand = &cli.Command{
	Name:  "stats",
	Usage: "print title index information",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		printStats(c.App.Writer, s)
		return nil
	},
}

func openStore(cfg *config) (*store.Store, error) {
	id, err := store.NewIdentity(cfg.archive, cfg.version)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.store, id, &store.Options{Logger: logrus.StandardLogger()})
}

func printStats(w io.Writer, s *store.Store) {
	st := s.Stats()
	tbl := table.New("Field", "Value").WithWriter(w)
	tbl.AddRow("Store", s.Path())
	tbl.AddRow("Archive", st.Identity.Path)
	tbl.AddRow("Version", st.Identity.Version)
	if st.Identity.Digest != "" {
		tbl.AddRow("Digest", st.Identity.Digest)
	}
	tbl.AddRow("Build ID", st.BuildID)
	tbl.AddRow("Built", st.BuiltAt.Local().Format(time.RFC3339))
	tbl.AddRow("Blocks", st.Blocks)
	tbl.AddRow("Titles", st.Titles)
	tbl.AddRow("Duplicates", st.Duplicates)
	tbl.AddRow("Format", fmt.Sprintf("v%d", st.Format))
	tbl.Print()
}
