// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"
)

// dumpLibrary prints a genotype library in human-readable form, for
// checking what actually went into a .gob.gz container.
type dumpLibrary struct{}

func (cmd *dumpLibrary) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "library.gob.gz", "genotype library `file`")
	outputFilename := flags.String("o", "-", "output `file`")
	calls := flags.Bool("calls", false, "also dump the full call matrix")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	lib, err := loadGenotypeLibrary(*inputFilename)
	if err != nil {
		return 1
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = dumpLib(bufw, lib, *calls)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func dumpLib(w io.Writer, lib *GenotypeLibrary, calls bool) error {
	var digests []string
	for fnm := range lib.InputDigests {
		digests = append(digests, fnm)
	}
	sort.Strings(digests)
	for _, fnm := range digests {
		if _, err := fmt.Fprintf(w, "input %s blake2b %s\n", fnm, lib.InputDigests[fnm]); err != nil {
			return err
		}
	}
	for j, name := range lib.Markers {
		info := lib.Info[name]
		if _, err := fmt.Fprintf(w, "marker %d %s alleles %s/%s depth %.1f/%.1f\n",
			j, name, info.Allele1, info.Allele2, info.AvgDepth1, info.AvgDepth2); err != nil {
			return err
		}
	}
	for i, si := range lib.Samples {
		if _, err := fmt.Fprintf(w, "sample %d %s %s jday %d %s\n",
			i, si.ID, si.Date.Format("2006-01-02"), si.Jday, si.Method); err != nil {
			return err
		}
		if !calls {
			continue
		}
		for j, name := range lib.Markers {
			call := lib.Calls[i][j]
			if call == "" {
				call = "."
			}
			if _, err := fmt.Fprintf(w, "call %s %s %s\n", si.ID, name, call); err != nil {
				return err
			}
		}
	}
	return nil
}
