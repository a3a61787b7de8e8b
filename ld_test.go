// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"math"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type ldSuite struct{}

var _ = check.Suite(&ldSuite{})

func (s *ldSuite) TestPairR2(c *check.C) {
	// perfectly linked markers
	x := []float64{2, 2, 1, 1, 0, 0}
	r2, n := pairR2(x, x, 2)
	c.Check(math.Abs(r2-1.0) < 1e-12, check.Equals, true)
	c.Check(n, check.Equals, 6)

	// perfect negative correlation is still R² = 1
	y := []float64{0, 0, 1, 1, 2, 2}
	r2, _ = pairR2(x, y, 2)
	c.Check(math.Abs(r2-1.0) < 1e-12, check.Equals, true)

	// missing calls reduce the complete-pair count
	z := []float64{2, math.NaN(), 1, 1, math.NaN(), 0}
	_, n = pairR2(x, z, 2)
	c.Check(n, check.Equals, 4)

	// below min-obs: undefined
	r2, n = pairR2(x, z, 5)
	c.Check(math.IsNaN(r2), check.Equals, true)
	c.Check(n, check.Equals, 4)

	// monomorphic marker: undefined
	mono := []float64{1, 1, 1, 1, 1, 1}
	r2, _ = pairR2(x, mono, 2)
	c.Check(math.IsNaN(r2), check.Equals, true)
}

func (s *ldSuite) TestPairwiseR2(c *check.C) {
	dos := [][]float64{
		{2, 2, 1, 1, 0, 0},
		{2, 2, 1, 1, 0, 0},
		{0, 1, 2, 0, 1, 2},
	}
	pairs := pairwiseR2(dos, 2)
	c.Assert(pairs, check.HasLen, 3)
	byPair := map[[2]int]float64{}
	for _, p := range pairs {
		c.Check(p.A < p.B, check.Equals, true)
		byPair[[2]int{p.A, p.B}] = p.R2
	}
	c.Check(math.Abs(byPair[[2]int{0, 1}]-1.0) < 1e-12, check.Equals, true)
	c.Check(byPair[[2]int{0, 2}] < 0.5, check.Equals, true)
}

func (s *ldSuite) TestDosageVectors(c *check.C) {
	lib := &GenotypeLibrary{
		Markers: []string{"m1", "m2"},
		Info:    map[string]markerInfo{"m1": {Allele1: "T", Allele2: "A"}},
		Samples: []sampleInfo{{ID: "f1"}, {ID: "f2"}, {ID: "f3"}, {ID: "f4"}},
		Calls: [][]string{
			{"TT", "GG"},
			{"TA", "GA"},
			{"AA", ""},
			{"", "AA"},
		},
	}
	dos := dosageVectors(lib)
	c.Assert(dos, check.HasLen, 2)
	c.Check(dos[0][0], check.Equals, 2.0)
	c.Check(dos[0][1], check.Equals, 1.0)
	c.Check(dos[0][2], check.Equals, 0.0)
	c.Check(math.IsNaN(dos[0][3]), check.Equals, true)
	// m2 has no marker-info row: first observed call defines the
	// counted allele
	c.Check(dos[1][0], check.Equals, 2.0)
	c.Check(dos[1][1], check.Equals, 1.0)
	c.Check(math.IsNaN(dos[1][2]), check.Equals, true)
	c.Check(dos[1][3], check.Equals, 0.0)
}

func (s *ldSuite) TestLoadPositionsTSV(c *check.C) {
	dir := c.MkDir()
	fnm := dir + "/positions.tsv"
	err := os.WriteFile(fnm, []byte("Marker\tChrom\tPos\n"+
		"Ots28_11062912\tOts28\t11062912\n"+
		"Ots17_04551492\tOts17\t4551492\n"), 0644)
	c.Assert(err, check.IsNil)
	pos, err := loadPositions(fnm)
	c.Assert(err, check.IsNil)
	c.Check(pos["Ots28_11062912"], check.Equals, markerPosition{Chrom: "Ots28", Pos: 11062912})
	c.Check(pos["Ots17_04551492"].Chrom, check.Equals, "Ots17")
}

func (s *ldSuite) TestLDTableRoundTrip(c *check.C) {
	lib := &GenotypeLibrary{Markers: []string{"m1", "m2", "m3"}}
	positions := map[string]markerPosition{
		"m1": {Chrom: "Ots28", Pos: 100},
		"m2": {Chrom: "Ots28", Pos: 200},
		"m3": {Chrom: "Ots28", Pos: 300},
	}
	keep := []int{0, 1, 2}
	pairs := []ldPair{
		{A: 0, B: 1, R2: 0.9, N: 10},
		{A: 0, B: 2, R2: math.NaN(), N: 1},
		{A: 1, B: 2, R2: 0.25, N: 10},
	}
	var buf strings.Builder
	err := writeLDPairs(&buf, lib, keep, positions, pairs)
	c.Assert(err, check.IsNil)
	// 3 diagonal + 2 per defined pair, NaN rows carry no R² value
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	c.Check(lines, check.HasLen, 1+3+6)

	names, cells, err := loadLDTable(strings.NewReader(buf.String()))
	c.Assert(err, check.IsNil)
	c.Check(names, check.DeepEquals, []string{"m1", "m2", "m3"})
	// 3 diagonal cells + both triangles of the 2 defined pairs
	c.Check(cells, check.HasLen, 3+4)
	sym := map[[2]int]float64{}
	for _, cell := range cells {
		sym[[2]int{int(cell[0]), int(cell[1])}] = cell[2]
	}
	c.Check(sym[[2]int{0, 1}], check.Equals, 0.9)
	c.Check(sym[[2]int{1, 0}], check.Equals, 0.9)
	c.Check(sym[[2]int{2, 2}], check.Equals, 1.0)
}
