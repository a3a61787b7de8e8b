// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// dominanceCoefficient places the heterozygote mean day of year on
// the 0..1 scale spanned by the two homozygote means: 0 means the
// heterozygotes migrate with the early homozygotes (early fully
// dominant), 1 with the late homozygotes. NaN when a class is empty
// or the homozygote means coincide.
func dominanceCoefficient(classes []sampleClass) float64 {
	byClass := map[string][]float64{}
	for _, sc := range classes {
		if sc.SNP1Class != "" {
			byClass[sc.SNP1Class] = append(byClass[sc.SNP1Class], float64(sc.Jday))
		}
	}
	if len(byClass[classEarly]) == 0 || len(byClass[classHet]) == 0 || len(byClass[classLate]) == 0 {
		return math.NaN()
	}
	early := stat.Mean(byClass[classEarly], nil)
	het := stat.Mean(byClass[classHet], nil)
	late := stat.Mean(byClass[classLate], nil)
	if late == early {
		return math.NaN()
	}
	return (het - early) / (late - early)
}

type assoccmd struct {
	inputFilename  string
	outputFilename string
	snp1           string
	snp2           string
	lateCutoff     int
}

func (cmd *assoccmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFilename, "i", "library.gob.gz", "genotype library `file`")
	flags.StringVar(&cmd.outputFilename, "o", "-", "output `file` (json)")
	flags.StringVar(&cmd.snp1, "snp1", defaultSNP1, "first diagnostic `marker`")
	flags.StringVar(&cmd.snp2, "snp2", defaultSNP2, "second diagnostic `marker`")
	flags.IntVar(&cmd.lateCutoff, "late-cutoff", 214, "first `day of year` counted as late-season capture (default Aug 1)")
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

	lib, err := loadGenotypeLibrary(cmd.inputFilename)
	if err != nil {
		return 1
	}
	classes, err := classifyLibrary(lib, cmd.snp1, cmd.snp2)
	if err != nil {
		return 1
	}

	// NaN (undefined statistic) marshals as JSON null.
	var ret struct {
		Samples            int
		Classified         int
		MeanJdayByClass    map[string]float64
		DominanceCoeff     *float64
		LateCutoffJday     int
		ChisqCarrierVsLate *float64
		GLMCarrierVsJday   *float64
	}
	ret.Samples = len(classes)
	ret.LateCutoffJday = cmd.lateCutoff
	ret.MeanJdayByClass = map[string]float64{}

	byClass := map[string][]float64{}
	var carrier, late []bool
	var jdays []float64
	var methods []string
	for _, sc := range classes {
		if sc.SNP1Class == "" {
			continue
		}
		ret.Classified++
		byClass[sc.SNP1Class] = append(byClass[sc.SNP1Class], float64(sc.Jday))
		d, _ := alleleDosage(sc.SNP1Class)
		carrier = append(carrier, d > 0)
		late = append(late, sc.Jday >= cmd.lateCutoff)
		jdays = append(jdays, float64(sc.Jday))
		methods = append(methods, sc.Method)
	}
	for class, days := range byClass {
		ret.MeanJdayByClass[class] = stat.Mean(days, nil)
	}
	finite := func(x float64) *float64 {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return &x
	}
	h := dominanceCoefficient(classes)
	ret.DominanceCoeff = finite(h)
	chisq, glmp := math.NaN(), math.NaN()
	if len(carrier) > 0 {
		chisq = chisqPvalue(carrier, late)
		glmp = glmPvalue(carrier, jdays, methods)
	}
	ret.ChisqCarrierVsLate = finite(chisq)
	ret.GLMCarrierVsJday = finite(glmp)
	log.Infof("assoc: %d/%d classified, chisq p=%.4g, glm p=%.4g, h=%.3f",
		ret.Classified, ret.Samples, chisq, glmp, h)

	var output io.WriteCloser
	if cmd.outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(cmd.outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	enc := json.NewEncoder(bufw)
	enc.SetIndent("", "  ")
	err = enc.Encode(ret)
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
