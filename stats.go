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
	"os"

	log "github.com/sirupsen/logrus"
)

type statscmd struct {
	debugLowDepth bool
	minDepth      float64
}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	flags.BoolVar(&cmd.debugLowDepth, "debug-low-depth", false, "output full list of markers below the depth threshold")
	flags.Float64Var(&cmd.minDepth, "min-depth", 10, "mean read-depth `threshold` for the low-depth list")
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
	err = cmd.doStats(lib, bufw)
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

func (cmd *statscmd) doStats(lib *GenotypeLibrary, output io.Writer) error {
	var ret struct {
		Samples             int
		Markers             int
		SamplesByMethod     map[string]int
		SamplesByWeek       map[int]int
		MarkersWithNMissing []int // a[x]==y means y markers are missing calls for x samples
		SamplesWithNMissing []int // a[x]==y means y samples are missing calls at x markers
		LowDepthMarkers     []string `json:",omitempty"`
		InputDigests        map[string]string
	}
	ret.Samples = len(lib.Samples)
	ret.Markers = len(lib.Markers)
	ret.SamplesByMethod = map[string]int{}
	ret.SamplesByWeek = map[int]int{}
	ret.InputDigests = lib.InputDigests
	for _, si := range lib.Samples {
		ret.SamplesByMethod[si.Method]++
		ret.SamplesByWeek[si.Jweek]++
	}

	missingByMarker := make([]int, len(lib.Markers))
	for i := range lib.Samples {
		missing := 0
		for j := range lib.Markers {
			if lib.Calls[i][j] == "" {
				missing++
				missingByMarker[j]++
			}
		}
		for len(ret.SamplesWithNMissing) <= missing {
			ret.SamplesWithNMissing = append(ret.SamplesWithNMissing, 0)
		}
		ret.SamplesWithNMissing[missing]++
	}
	for _, n := range missingByMarker {
		for len(ret.MarkersWithNMissing) <= n {
			ret.MarkersWithNMissing = append(ret.MarkersWithNMissing, 0)
		}
		ret.MarkersWithNMissing[n]++
	}

	if cmd.debugLowDepth {
		for _, name := range lib.Markers {
			info, ok := lib.Info[name]
			if !ok {
				continue
			}
			if info.AvgDepth1+info.AvgDepth2 < cmd.minDepth {
				ret.LowDepthMarkers = append(ret.LowDepthMarkers, name)
			}
		}
	}

	return json.NewEncoder(output).Encode(ret)
}
