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

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type goPCA struct{}

func (cmd *goPCA) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	components := flags.Int("components", 4, "number of components")
	maxMissing := flags.Float64("max-missing", 0.2, "exclude markers with missing-call `fraction` above this")
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

	log.Print("reading")
	lib, err := loadGenotypeLibrary(*inputFilename)
	if err != nil {
		return 1
	}

	log.Info("filtering")
	dos := dosageVectors(lib)
	var kept [][]float64
	for j := range dos {
		if missingRate(dos[j]) <= *maxMissing {
			kept = append(kept, dos[j])
		}
	}
	log.Infof("%d of %d markers pass max-missing %.2f", len(kept), len(dos), *maxMissing)
	if len(kept) == 0 {
		err = fmt.Errorf("no markers pass the missingness filter")
		return 1
	}

	// mean-impute remaining no-calls so the decomposition has a
	// complete matrix to work on
	for _, v := range kept {
		sum, n := 0.0, 0
		for _, x := range v {
			if !math.IsNaN(x) {
				sum += x
				n++
			}
		}
		mean := 0.0
		if n > 0 {
			mean = sum / float64(n)
		}
		for i, x := range v {
			if math.IsNaN(x) {
				v[i] = mean
			}
		}
	}

	rows, cols := len(lib.Samples), len(kept)
	data := make([]float64, rows*cols)
	for j, v := range kept {
		for i, x := range v {
			data[i*cols+j] = x
		}
	}
	log.Printf("creating matrix backed by array: %d rows, %d cols", rows, cols)
	mtx := mat.Matrix(mat.NewDense(rows, cols, data).T())

	log.Print("fitting")
	transformer := nlp.NewPCA(*components)
	transformer.Fit(mtx)
	log.Printf("transforming")
	mtx, err = transformer.Transform(mtx)
	if err != nil {
		return 1
	}
	mtx = mtx.T()

	rows, cols = mtx.Dims()
	log.Printf("copying result to numpy output array: %d rows, %d cols", rows, cols)
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = mtx.At(i, j)
		}
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
	return 0
}
