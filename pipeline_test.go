// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

func buildLibrary(c *check.C, tmpdir string) {
	exited := (&sampleImporter{}).RunCommand("import-samples",
		[]string{"-i", "testdata/intake.tsv", "-o", tmpdir + "/samples.tsv"},
		bytes.NewReader(nil), os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	exited = (&genotypeImporter{}).RunCommand("import-genotypes",
		[]string{"-samples", tmpdir + "/samples.tsv", "-genotypes", "testdata/genotypes.tsv",
			"-marker-info", "testdata/markerinfo.tsv", "-o", tmpdir + "/library.gob.gz"},
		bytes.NewReader(nil), os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)
}

func (s *pipelineSuite) TestClassifyTrajectory(c *check.C) {
	tmpdir := c.MkDir()
	buildLibrary(c, tmpdir)

	exited := (&classifier{}).RunCommand("classify",
		[]string{"-i", tmpdir + "/library.gob.gz", "-o", tmpdir + "/classified.tsv",
			"-trajectory", tmpdir + "/trajectory.tsv"},
		bytes.NewReader(nil), os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	buf, err := os.ReadFile(tmpdir + "/classified.tsv")
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	c.Check(lines, check.HasLen, 13) // header + 12 samples
	// OtsLRR20_004 is the discordant fish
	found := false
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "OtsLRR20_004\t") {
			found = true
			c.Check(strings.Contains(line, "\tdiscordant\t"), check.Equals, true, check.Commentf("%q", line))
		}
	}
	c.Check(found, check.Equals, true)

	buf, err = os.ReadFile(tmpdir + "/trajectory.tsv")
	c.Assert(err, check.IsNil)
	lines = strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	// 12 samples minus the one missing SNP1 call
	c.Check(lines, check.HasLen, 12)
	c.Check(strings.HasSuffix(lines[len(lines)-1], "\t1.000000"), check.Equals, true, check.Commentf("%q", lines[len(lines)-1]))
	// proportions never decrease
	prev := 0.0
	for _, line := range lines[1:] {
		split := strings.Split(line, "\t")
		var p float64
		_, err := fmt.Sscanf(split[4], "%f", &p)
		c.Assert(err, check.IsNil)
		c.Check(p >= prev, check.Equals, true)
		prev = p
	}
}

func (s *pipelineSuite) TestMergeEnv(c *check.C) {
	tmpdir := c.MkDir()
	exited := (&sampleImporter{}).RunCommand("import-samples",
		[]string{"-i", "testdata/intake.tsv", "-o", tmpdir + "/samples.tsv"},
		bytes.NewReader(nil), os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	exited = (&envMerger{}).RunCommand("merge-env",
		[]string{"-weekly", "testdata/env_weekly.tsv", "-weekly-year", "2019",
			"-usgs", "testdata/usgs.tsv", "-samples", tmpdir + "/samples.tsv",
			"-prior-dates", "testdata/prior_dates.tsv", "-o", tmpdir + "/env.tsv"},
		bytes.NewReader(nil), os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	f, err := os.Open(tmpdir + "/env.tsv")
	c.Assert(err, check.IsNil)
	defer f.Close()
	days, weekSamples, err := loadEnvDays(f)
	c.Assert(err, check.IsNil)
	// 10 weekly bins + 3 usgs days
	c.Check(days, check.HasLen, 13)
	bySource := map[string]int{}
	for _, d := range days {
		bySource[d.Source]++
	}
	c.Check(bySource[envSourceWeekly], check.Equals, 10)
	c.Check(bySource[envSourceUSGS], check.Equals, 3)
	// prior-year dates land in the 2019 weekly bins
	c.Check(weekSamples["2019/24"], check.Equals, 1)
	c.Check(weekSamples["2019/28"], check.Equals, 1)
	// no 2020 sample falls in the gauge days' week
	c.Check(weekSamples["2020/27"], check.Equals, 0)
}

func (s *pipelineSuite) TestLDRegion(c *check.C) {
	tmpdir := c.MkDir()
	buildLibrary(c, tmpdir)

	exited := (&ldcmd{}).RunCommand("ld",
		[]string{"-i", tmpdir + "/library.gob.gz", "-positions", "testdata/positions.tsv",
			"-region", "Ots28:11000000-11300000", "-min-obs", "5", "-o", tmpdir + "/ld.tsv"},
		bytes.NewReader(nil), os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	f, err := os.Open(tmpdir + "/ld.tsv")
	c.Assert(err, check.IsNil)
	defer f.Close()
	names, cells, err := loadLDTable(f)
	c.Assert(err, check.IsNil)
	// the Ots17 marker is outside the region
	c.Check(names, check.HasLen, 4)
	for _, name := range names {
		c.Check(strings.HasPrefix(name, "Ots28_"), check.Equals, true)
	}
	// diagonal + both triangles, all pairs defined on this data
	c.Check(cells, check.HasLen, 4+4*3)
	// the two perfectly linked markers
	high := 0.0
	for _, cell := range cells {
		if names[int(cell[0])] == "Ots28_11062912" && names[int(cell[1])] == "Ots28_11205993" {
			high = cell[2]
		}
	}
	c.Check(high > 0.99, check.Equals, true, check.Commentf("r2=%g", high))
}

func (s *pipelineSuite) TestStatsExportAssoc(c *check.C) {
	tmpdir := c.MkDir()
	buildLibrary(c, tmpdir)

	statsout := &bytes.Buffer{}
	exited := (&statscmd{}).RunCommand("stats",
		[]string{"-i", tmpdir + "/library.gob.gz", "-debug-low-depth"},
		bytes.NewReader(nil), statsout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	var st struct {
		Samples             int
		Markers             int
		SamplesByMethod     map[string]int
		SamplesWithNMissing []int
		LowDepthMarkers     []string
	}
	c.Assert(json.Unmarshal(statsout.Bytes(), &st), check.IsNil)
	c.Check(st.Samples, check.Equals, 12)
	c.Check(st.Markers, check.Equals, 5)
	c.Check(st.SamplesByMethod["angler"], check.Equals, 6)
	// 11 samples fully called, 1 sample missing one call
	c.Check(st.SamplesWithNMissing, check.DeepEquals, []int{11, 1})
	c.Check(st.LowDepthMarkers, check.DeepEquals, []string{"Ots28_11077576"})

	dumpout := &bytes.Buffer{}
	exited = (&dumpLibrary{}).RunCommand("dump",
		[]string{"-i", tmpdir + "/library.gob.gz", "-calls"},
		bytes.NewReader(nil), dumpout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(strings.Contains(dumpout.String(), "marker 0 Ots28_11062912 alleles T/A"), check.Equals, true)
	c.Check(strings.Contains(dumpout.String(), "call OtsLRR20_012 Ots28_11062912 .\n"), check.Equals, true)

	exited = (&exportNumpy{}).RunCommand("export-numpy",
		[]string{"-i", tmpdir + "/library.gob.gz", "-o", tmpdir + "/matrix.npy",
			"-output-labels", tmpdir + "/labels.csv"},
		bytes.NewReader(nil), os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	f, err := os.Open(tmpdir + "/matrix.npy")
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{12, 5})
	data, err := npy.GetFloat64()
	c.Assert(err, check.IsNil)
	c.Check(data, check.HasLen, 60)
	labels, err := os.ReadFile(tmpdir + "/labels.csv")
	c.Assert(err, check.IsNil)
	c.Check(strings.Contains(string(labels), "row,0,OtsLRR20_001"), check.Equals, true)
	c.Check(strings.Contains(string(labels), "col,0,Ots28_11062912"), check.Equals, true)

	assocout := &bytes.Buffer{}
	exited = (&assoccmd{}).RunCommand("assoc",
		[]string{"-i", tmpdir + "/library.gob.gz"},
		bytes.NewReader(nil), assocout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	var as struct {
		Samples         int
		Classified      int
		MeanJdayByClass map[string]float64
	}
	c.Assert(json.Unmarshal(assocout.Bytes(), &as), check.IsNil)
	c.Check(as.Samples, check.Equals, 12)
	c.Check(as.Classified, check.Equals, 11)
	c.Check(as.MeanJdayByClass["early_homozygote"] < as.MeanJdayByClass["late_homozygote"], check.Equals, true)
}

func (s *pipelineSuite) TestReport(c *check.C) {
	tmpdir := c.MkDir()
	buildLibrary(c, tmpdir)

	exited := (&envMerger{}).RunCommand("merge-env",
		[]string{"-weekly", "testdata/env_weekly.tsv", "-usgs", "testdata/usgs.tsv",
			"-samples", tmpdir + "/samples.tsv", "-o", tmpdir + "/env.tsv"},
		bytes.NewReader(nil), os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	exited = (&ldcmd{}).RunCommand("ld",
		[]string{"-i", tmpdir + "/library.gob.gz", "-positions", "testdata/positions.tsv",
			"-region", "Ots28:11000000-11300000", "-min-obs", "5", "-o", tmpdir + "/ld.tsv"},
		bytes.NewReader(nil), os.Stderr, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	stdout := &bytes.Buffer{}
	exited = (&reporter{}).RunCommand("report",
		[]string{"-i", tmpdir + "/library.gob.gz", "-env", tmpdir + "/env.tsv",
			"-ld", tmpdir + "/ld.tsv", "-o", tmpdir + "/report.html"},
		bytes.NewReader(nil), stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(strings.Contains(stdout.String(), "angler"), check.Equals, true)
	c.Check(strings.Contains(stdout.String(), "discrepancy is unresolved"), check.Equals, true)

	html, err := os.ReadFile(tmpdir + "/report.html")
	c.Assert(err, check.IsNil)
	c.Check(len(html) > 0, check.Equals, true)
	c.Check(strings.Contains(string(html), "echarts"), check.Equals, true)
}
