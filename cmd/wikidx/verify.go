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
	"runtime"

	"github.com/rodaine/table"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	multistream "github.com/ianlewis/go-multistream"
)

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "check the title index against the archive",
	Description: "Decompresses every block and checks that every indexed article is in\n" +
		"its block.",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "jobs",
			Usage:   "decode `N` blocks concurrently",
			Aliases: []string{"j"},
			Value:   runtime.NumCPU(),
		},
		&cli.BoolFlag{
			Name:  "digest",
			Usage: "also verify the archive digest recorded by build --digest",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		report, err := multistream.Verify(c.Context, cfg.archive, cfg.store, cfg.version, &multistream.VerifyOptions{
			Jobs:         c.Int("jobs"),
			VerifyDigest: c.Bool("digest"),
			Logger:       logrus.StandardLogger(),
		})
		if err != nil {
			return err
		}

		w := c.App.Writer
		if !report.OK() {
			tbl := table.New("Start", "End", "Problem").WithWriter(w)
			for _, p := range report.Problems {
				tbl.AddRow(p.Start, p.End, p.Err)
			}
			tbl.Print()
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "verified %d blocks, %d titles: %d problems\n", report.Blocks, report.Titles, len(report.Problems))

		if !report.OK() {
			return cli.Exit("", ExitCodeFailure)
		}
		return nil
	},
}
