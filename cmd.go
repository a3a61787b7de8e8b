// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"os"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"import-samples":   &sampleImporter{},
		"import-genotypes": &genotypeImporter{},
		"merge-env":        &envMerger{},
		"classify":         &classifier{},
		"ld":               &ldcmd{},
		"assoc":            &assoccmd{},
		"stats":            &statscmd{},
		"export-numpy":     &exportNumpy{},
		"dump":             &dumpLibrary{},
		"pca":              &goPCA{},
		"report":           &reporter{},
	})
)

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
