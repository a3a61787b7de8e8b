// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"bufio"
	"encoding/gob"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// markerInfo carries the per-marker allele read-depth statistics
// reported by the genotyping pipeline.
type markerInfo struct {
	Allele1   string
	Allele2   string
	AvgDepth1 float64
	AvgDepth2 float64
}

// GenotypeLibrary is the container object produced by
// import-genotypes and consumed by every downstream stage. The
// integer marker index used throughout (ld output in particular) is
// the position in Markers.
type GenotypeLibrary struct {
	Markers []string
	Info    map[string]markerInfo
	Samples []sampleInfo
	// Calls[i][j] is the two-character genotype call for
	// Samples[i] at Markers[j]; "" means no call.
	Calls [][]string
	// InputDigests maps source filename to the blake2b-256 hex
	// digest of its content at import time.
	InputDigests map[string]string
}

func (lib *GenotypeLibrary) MarkerIndex(name string) int {
	for i, m := range lib.Markers {
		if m == name {
			return i
		}
	}
	return -1
}

// CallsFor returns the per-sample calls at the named marker, in
// Samples order.
func (lib *GenotypeLibrary) CallsFor(name string) ([]string, error) {
	j := lib.MarkerIndex(name)
	if j < 0 {
		return nil, fmt.Errorf("marker %q not in library", name)
	}
	calls := make([]string, len(lib.Samples))
	for i := range lib.Samples {
		calls[i] = lib.Calls[i][j]
	}
	return calls, nil
}

func (lib *GenotypeLibrary) WriteTo(w io.Writer, gz bool) error {
	if gz {
		gzw := pgzip.NewWriter(w)
		err := gob.NewEncoder(gzw).Encode(lib)
		if err != nil {
			return err
		}
		return gzw.Close()
	}
	return gob.NewEncoder(w).Encode(lib)
}

func ReadGenotypeLibrary(rdr io.Reader, gz bool) (*GenotypeLibrary, error) {
	if gz {
		gzr, err := pgzip.NewReader(bufio.NewReaderSize(rdr, 1<<22))
		if err != nil {
			return nil, err
		}
		defer gzr.Close()
		rdr = gzr
	}
	var lib GenotypeLibrary
	err := gob.NewDecoder(rdr).Decode(&lib)
	if err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &lib, nil
}

func loadGenotypeLibrary(fnm string) (*GenotypeLibrary, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lib, err := ReadGenotypeLibrary(f, strings.HasSuffix(fnm, ".gz"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return lib, nil
}

// Missing-call spellings emitted by the genotyping pipeline.
func normalizeCall(s string) string {
	switch s = strings.TrimSpace(s); s {
	case "00", "0", "--", "-", "NA", "N/A", "":
		return ""
	}
	return s
}

// loadGenotypeTable reads the wide genotype TSV: one header row
// (SampleID then marker names), one row per sample.
func loadGenotypeTable(rdr io.Reader) (markers []string, calls map[string][]string, err error) {
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 1<<22), 1<<22)
	calls = map[string][]string{}
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		split := strings.Split(line, "\t")
		if markers == nil {
			if split[0] != "SampleID" {
				return nil, nil, fmt.Errorf("genotype table: expected SampleID header, got %q", split[0])
			}
			markers = split[1:]
			continue
		}
		if len(split) != len(markers)+1 {
			return nil, nil, fmt.Errorf("genotype table line %d: %d columns, header has %d", lineno, len(split), len(markers)+1)
		}
		id := split[0]
		if _, ok := calls[id]; ok {
			return nil, nil, fmt.Errorf("genotype table line %d: duplicate sample %q", lineno, id)
		}
		row := make([]string, len(markers))
		for i, c := range split[1:] {
			row[i] = normalizeCall(c)
		}
		calls[id] = row
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if markers == nil {
		return nil, nil, fmt.Errorf("genotype table is empty")
	}
	return markers, calls, nil
}

func loadMarkerInfo(rdr io.Reader) (map[string]markerInfo, error) {
	scanner := bufio.NewScanner(rdr)
	info := map[string]markerInfo{}
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || lineno == 1 {
			continue
		}
		split := strings.Split(line, "\t")
		if len(split) < 5 {
			return nil, fmt.Errorf("marker info line %d: expected 5 columns, got %d", lineno, len(split))
		}
		d1, err := strconv.ParseFloat(split[3], 64)
		if err != nil {
			return nil, fmt.Errorf("marker info line %d: %w", lineno, err)
		}
		d2, err := strconv.ParseFloat(split[4], 64)
		if err != nil {
			return nil, fmt.Errorf("marker info line %d: %w", lineno, err)
		}
		info[split[0]] = markerInfo{
			Allele1:   split[1],
			Allele2:   split[2],
			AvgDepth1: d1,
			AvgDepth2: d2,
		}
	}
	return info, scanner.Err()
}

func fileDigest(fnm string) (string, error) {
	buf, err := os.ReadFile(fnm)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(buf)
	return fmt.Sprintf("%x", sum), nil
}

type genotypeImporter struct {
	samplesFilename  string
	genotypeFilename string
	infoFilename     string
	outputFilename   string
}

func (cmd *genotypeImporter) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.samplesFilename, "samples", "", "cleaned samples `file` (import-samples output)")
	flags.StringVar(&cmd.genotypeFilename, "genotypes", "", "genotype call table `file` (tsv)")
	flags.StringVar(&cmd.infoFilename, "marker-info", "", "marker read-depth table `file` (tsv)")
	flags.StringVar(&cmd.outputFilename, "o", "library.gob.gz", "output `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.samplesFilename == "" || cmd.genotypeFilename == "" {
		err = fmt.Errorf("must provide -samples and -genotypes")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	samples, err := loadSamplesFile(cmd.samplesFilename)
	if err != nil {
		return 1
	}
	f, err := os.Open(cmd.genotypeFilename)
	if err != nil {
		return 1
	}
	markers, calls, err := loadGenotypeTable(f)
	f.Close()
	if err != nil {
		err = fmt.Errorf("%s: %w", cmd.genotypeFilename, err)
		return 1
	}
	log.Infof("genotype table: %d markers, %d samples", len(markers), len(calls))

	lib := &GenotypeLibrary{
		Markers:      markers,
		Info:         map[string]markerInfo{},
		InputDigests: map[string]string{},
	}
	if cmd.infoFilename != "" {
		f, err2 := os.Open(cmd.infoFilename)
		if err2 != nil {
			err = err2
			return 1
		}
		lib.Info, err = loadMarkerInfo(f)
		f.Close()
		if err != nil {
			err = fmt.Errorf("%s: %w", cmd.infoFilename, err)
			return 1
		}
		lib.InputDigests[cmd.infoFilename], err = fileDigest(cmd.infoFilename)
		if err != nil {
			return 1
		}
	}

	// Join genotype rows onto the cleaned metadata. Samples without
	// genotypes are dropped from the cohort; genotype rows without
	// metadata are dropped from the library. Unique IDs on both
	// sides make the join 1:1, so row counts only ever shrink.
	var dropped int
	for _, si := range samples {
		row, ok := calls[si.ID]
		if !ok {
			log.Warnf("sample %s has no genotype row, dropping from cohort", si.ID)
			continue
		}
		lib.Samples = append(lib.Samples, si)
		lib.Calls = append(lib.Calls, row)
		delete(calls, si.ID)
	}
	dropped = len(calls)
	if dropped > 0 {
		log.Warnf("dropped %d genotype rows with no matching sample metadata", dropped)
	}
	log.Infof("library: %d samples x %d markers", len(lib.Samples), len(lib.Markers))
	if len(lib.Samples) == 0 {
		err = fmt.Errorf("fatal: no genotype rows matched the sample metadata")
		return 1
	}

	for _, fnm := range []string{cmd.samplesFilename, cmd.genotypeFilename} {
		lib.InputDigests[fnm], err = fileDigest(fnm)
		if err != nil {
			return 1
		}
	}

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
	err = lib.WriteTo(bufw, strings.HasSuffix(cmd.outputFilename, ".gz"))
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
