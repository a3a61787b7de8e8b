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
	"runtime"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

type markerPosition struct {
	Chrom string
	Pos   int
}

// loadPositions reads the chromosome/position table for the region
// of interest. The curated table is an Excel spreadsheet; a plain
// TSV with the same columns (Marker, Chrom, Pos) is also accepted.
func loadPositions(fnm string) (map[string]markerPosition, error) {
	if strings.HasSuffix(fnm, ".xlsx") {
		return loadPositionsXLSX(fnm)
	}
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pos := map[string]markerPosition{}
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || lineno == 1 {
			continue
		}
		split := strings.Split(line, "\t")
		if len(split) < 3 {
			return nil, fmt.Errorf("%s line %d: expected 3 columns", fnm, lineno)
		}
		p, err := strconv.Atoi(split[2])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", fnm, lineno, err)
		}
		pos[split[0]] = markerPosition{Chrom: split[1], Pos: p}
	}
	return pos, scanner.Err()
}

func loadPositionsXLSX(fnm string) (map[string]markerPosition, error) {
	x, err := excelize.OpenFile(fnm)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	defer x.Close()
	sheet := x.GetSheetName(0)
	rows, err := x.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	pos := map[string]markerPosition{}
	for i, row := range rows {
		if i == 0 || len(row) == 0 || row[0] == "" {
			continue
		}
		if len(row) < 3 {
			return nil, fmt.Errorf("%s row %d: expected 3 columns", fnm, i+1)
		}
		p, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", fnm, i+1, err)
		}
		pos[strings.TrimSpace(row[0])] = markerPosition{Chrom: strings.TrimSpace(row[1]), Pos: p}
	}
	return pos, nil
}

// dosageVectors converts the library's calls into per-marker numeric
// dosage vectors: the count of the marker's first allele in each
// call, with NaN for missing calls. The first allele comes from the
// marker-info table when present, otherwise from the first call
// observed.
func dosageVectors(lib *GenotypeLibrary) [][]float64 {
	dos := make([][]float64, len(lib.Markers))
	for j, name := range lib.Markers {
		ref := byte(0)
		if info, ok := lib.Info[name]; ok && info.Allele1 != "" {
			ref = info.Allele1[0]
		}
		v := make([]float64, len(lib.Samples))
		for i := range lib.Samples {
			call := lib.Calls[i][j]
			if len(call) != 2 {
				v[i] = math.NaN()
				continue
			}
			if ref == 0 {
				ref = call[0]
			}
			n := 0.0
			if call[0] == ref {
				n++
			}
			if call[1] == ref {
				n++
			}
			v[i] = n
		}
		dos[j] = v
	}
	return dos
}

// pairR2 is the linkage-disequilibrium R² between two dosage
// vectors: the squared Pearson correlation over pairwise-complete
// observations (the correlation itself is gonum's). NaN when fewer
// than minObs complete pairs remain or either marker is monomorphic
// among them.
func pairR2(x, y []float64, minObs int) (float64, int) {
	var xs, ys []float64
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < minObs {
		return math.NaN(), len(xs)
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return math.NaN(), len(xs)
	}
	return r * r, len(xs)
}

type ldPair struct {
	A, B int
	R2   float64
	N    int
}

// pairwiseR2 computes R² for every unordered marker pair,
// parallelized by row.
func pairwiseR2(dos [][]float64, minObs int) []ldPair {
	n := len(dos)
	pairs := make([]ldPair, n*(n-1)/2)
	offset := func(i, j int) int {
		return i*(2*n-i-1)/2 + (j - i - 1)
	}
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			for j := i + 1; j < n; j++ {
				r2, obs := pairR2(dos[i], dos[j], minObs)
				pairs[offset(i, j)] = ldPair{A: i, B: j, R2: r2, N: obs}
			}
			return nil
		})
	}
	g.Wait()
	return pairs
}

type ldcmd struct {
	inputFilename     string
	positionsFilename string
	outputFilename    string
	region            string
	minObs            int
}

func (cmd *ldcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFilename, "i", "library.gob.gz", "genotype library `file`")
	flags.StringVar(&cmd.positionsFilename, "positions", "", "marker position `file` (xlsx or tsv)")
	flags.StringVar(&cmd.region, "region", "", "restrict to `region` (chrom:start-end[,chrom:start-end...])")
	flags.IntVar(&cmd.minObs, "min-obs", 20, "minimum complete observations per pair")
	flags.StringVar(&cmd.outputFilename, "o", "-", "output `file` (tsv)")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.region != "" && cmd.positionsFilename == "" {
		err = fmt.Errorf("-region requires -positions")
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

	positions := map[string]markerPosition{}
	if cmd.positionsFilename != "" {
		positions, err = loadPositions(cmd.positionsFilename)
		if err != nil {
			return 1
		}
	}

	// Restrict the marker set before computing pairs: markers with
	// no position row cannot be placed and are excluded whenever a
	// region is requested.
	keep := make([]int, 0, len(lib.Markers))
	if cmd.region != "" {
		var rs *regionSet
		rs, err = parseRegions(cmd.region)
		if err != nil {
			return 2
		}
		unplaced := 0
		for j, name := range lib.Markers {
			mp, ok := positions[name]
			if !ok {
				unplaced++
				continue
			}
			if rs.Contains(mp.Chrom, mp.Pos) {
				keep = append(keep, j)
			}
		}
		if unplaced > 0 {
			log.Warnf("%d markers have no position row, excluded from region restriction", unplaced)
		}
		log.Infof("region %s: %d of %d markers", cmd.region, len(keep), len(lib.Markers))
	} else {
		for j := range lib.Markers {
			keep = append(keep, j)
		}
	}
	if len(keep) < 2 {
		err = fmt.Errorf("fewer than 2 markers to pair")
		return 1
	}

	alldos := dosageVectors(lib)
	dos := make([][]float64, len(keep))
	for k, j := range keep {
		dos[k] = alldos[j]
	}
	log.Infof("computing R² for %d marker pairs", len(keep)*(len(keep)-1)/2)
	pairs := pairwiseR2(dos, cmd.minObs)

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
	err = writeLDPairs(bufw, lib, keep, positions, pairs)
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

// writeLDPairs re-attaches marker names and positions via the
// integer marker index and emits each pair twice, once per triangle,
// plus the unit diagonal, so the matrix plots without reshaping.
func writeLDPairs(w io.Writer, lib *GenotypeLibrary, keep []int, positions map[string]markerPosition, pairs []ldPair) error {
	_, err := fmt.Fprintln(w, "IndexA\tIndexB\tMarkerA\tMarkerB\tChromA\tPosA\tChromB\tPosB\tN\tR2")
	if err != nil {
		return err
	}
	writeRow := func(a, b int, r2 float64, n int) error {
		na, nb := lib.Markers[keep[a]], lib.Markers[keep[b]]
		pa, pb := positions[na], positions[nb]
		r2s := ""
		if !math.IsNaN(r2) {
			r2s = strconv.FormatFloat(r2, 'f', 6, 64)
		}
		_, err := fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
			keep[a], keep[b], na, nb, pa.Chrom, pa.Pos, pb.Chrom, pb.Pos, n, r2s)
		return err
	}
	for a := range keep {
		if err := writeRow(a, a, 1, 0); err != nil {
			return err
		}
	}
	for _, p := range pairs {
		if err := writeRow(p.A, p.B, p.R2, p.N); err != nil {
			return err
		}
		if err := writeRow(p.B, p.A, p.R2, p.N); err != nil {
			return err
		}
	}
	return nil
}
