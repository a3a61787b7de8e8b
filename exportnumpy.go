// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

type exportNumpy struct{}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	labelsFilename := flags.String("output-labels", "", "row/column label output `file` (csv)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	lib, err := loadGenotypeLibrary(*inputFilename)
	if err != nil {
		return 1
	}
	out, rows, cols := lib2array(lib)
	log.Infof("dosage matrix: %d rows x %d cols", rows, cols)

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
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(out)
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

	if *labelsFilename != "" {
		err = writeLabels(*labelsFilename, lib)
		if err != nil {
			return 1
		}
	}
	return 0
}

// lib2array flattens the library's dosage vectors to a row-major
// samples x markers float64 array, NaN for missing calls.
func lib2array(lib *GenotypeLibrary) (data []float64, rows, cols int) {
	dos := dosageVectors(lib)
	rows, cols = len(lib.Samples), len(lib.Markers)
	data = make([]float64, rows*cols)
	for j := range dos {
		for i, v := range dos[j] {
			data[i*cols+j] = v
		}
	}
	return
}

func writeLabels(fnm string, lib *GenotypeLibrary) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprint(f, "Axis,Index,Label\n")
	if err != nil {
		return err
	}
	for i, si := range lib.Samples {
		_, err = fmt.Fprintf(f, "row,%d,%s\n", i, si.ID)
		if err != nil {
			return err
		}
	}
	for j, name := range lib.Markers {
		_, err = fmt.Fprintf(f, "col,%d,%s\n", j, name)
		if err != nil {
			return err
		}
	}
	return f.Close()
}

// missingRate is the fraction of NaN entries in a dosage vector.
func missingRate(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	n := 0
	for _, x := range v {
		if math.IsNaN(x) {
			n++
		}
	}
	return float64(n) / float64(len(v))
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
