// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"io"
	"log"
	"math"
	"sort"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// onehot encodes a categorical covariate as indicator columns,
// dropping the first level.
func onehot(labels []string) (data [][]statmodel.Dtype, names []string) {
	levels := []string{}
	seen := map[string]bool{}
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			levels = append(levels, l)
		}
	}
	sort.Strings(levels)
	for _, level := range levels[1:] {
		col := make([]statmodel.Dtype, len(labels))
		for i, l := range labels {
			if l == level {
				col[i] = 1
			}
		}
		data = append(data, col)
		names = append(names, "method_"+level)
	}
	return
}

// Logistic regression of early-allele carriage on day of year,
// adjusted for capture method.
//
// glmPvalue fits carrier ~ 1 + method against carrier ~ 1 + method +
// jday and returns the likelihood-ratio p-value (1 df). All slices
// are in the same sample order; samples with a missing classification
// must be excluded by the caller.
func glmPvalue(carrier []bool, jday []float64, method []string) (p float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			p = math.NaN()
		}
	}()

	outcome := make([]statmodel.Dtype, len(carrier))
	constants := make([]statmodel.Dtype, len(carrier))
	for i, c := range carrier {
		if c {
			outcome[i] = 1
		}
		constants[i] = 1
	}
	day := make([]statmodel.Dtype, len(jday))
	copy(day, jday)
	normalize(day)

	data := [][]statmodel.Dtype{outcome, constants}
	names := []string{"carrier", "constants"}
	covData, covNames := onehot(method)
	data = append(data, covData...)
	names = append(names, covNames...)

	nullNames := names[1:]
	null := statmodel.NewDataset(data, names)
	modelNull, err := glm.NewGLM(null, "carrier", nullNames, glmConfig)
	if err != nil {
		return math.NaN()
	}
	logNull := modelNull.Fit().LogLike()

	data = append(data, day)
	names = append(names, "jday")
	full := statmodel.NewDataset(data, names)
	modelFull, err := glm.NewGLM(full, "carrier", append(append([]string{}, nullNames...), "jday"), glmConfig)
	if err != nil {
		return math.NaN()
	}
	logFull := modelFull.Fit().LogLike()

	dist := distuv.ChiSquared{K: 1}
	return dist.Survival(-2 * (logNull - logFull))
}
