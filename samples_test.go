// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"bytes"
	"strings"

	"gopkg.in/check.v1"
)

type samplesSuite struct{}

var _ = check.Suite(&samplesSuite{})

const intakeHeader = "Sample ID\tDate\tMethod\tLocation\tDetailed Location\tBox\tWell\tComments\n"

func (s *samplesSuite) TestLoadSampleIntake(c *check.C) {
	in := intakeHeader +
		"OtsLRR20_002\t5/19/2020\tAngler\tLower Rogue\tHuntley Park\tB1\tA2\t\n" +
		"OtsLRR20_001\t5/12/2020\tangling\tLower Rogue\tHuntley Park\tB1\tA1\tfin clip\n" +
		"OtsLRR20_003\t8/4/2020\tBeach Seine\tLower Rogue\tOrchard Bar\tB1\tA3\t\n"
	samples, err := loadSampleIntake(strings.NewReader(in))
	c.Assert(err, check.IsNil)
	c.Assert(samples, check.HasLen, 3)
	// sorted by day of year regardless of sheet order
	c.Check(samples[0].ID, check.Equals, "OtsLRR20_001")
	c.Check(samples[0].Method, check.Equals, "angler")
	c.Check(samples[0].Jday, check.Equals, 133) // 2020 is a leap year
	c.Check(samples[0].Jweek, check.Equals, 19)
	c.Check(samples[1].ID, check.Equals, "OtsLRR20_002")
	c.Check(samples[2].Method, check.Equals, "seine")
	c.Check(samples[2].Jday, check.Equals, 217)
	c.Check(samples[2].DetailLocat, check.Equals, "Orchard Bar")
}

func (s *samplesSuite) TestIntakeErrors(c *check.C) {
	for _, trial := range []struct {
		label string
		body  string
	}{
		{"bad date", "OtsLRR20_001\t5/45/2020\tAngler\tLower Rogue\t\t\t\t\n"},
		{"empty date", "OtsLRR20_001\t\tAngler\tLower Rogue\t\t\t\t\n"},
		{"bad method", "OtsLRR20_001\t5/12/2020\tgillnet\tLower Rogue\t\t\t\t\n"},
		{"empty id", "\t5/12/2020\tAngler\tLower Rogue\t\t\t\t\n"},
		{
			"duplicate id",
			"OtsLRR20_001\t5/12/2020\tAngler\tLower Rogue\t\t\t\t\n" +
				"OtsLRR20_001\t5/13/2020\tAngler\tLower Rogue\t\t\t\t\n",
		},
	} {
		_, err := loadSampleIntake(strings.NewReader(intakeHeader + trial.body))
		c.Check(err, check.NotNil, check.Commentf("%s", trial.label))
	}
	_, err := loadSampleIntake(strings.NewReader("Sample ID\tMethod\tLocation\n"))
	c.Check(err, check.NotNil)
	_, err = loadSampleIntake(strings.NewReader(""))
	c.Check(err, check.NotNil)
}

func (s *samplesSuite) TestJulianWeek(c *check.C) {
	c.Check(julianWeek(1), check.Equals, 1)
	c.Check(julianWeek(7), check.Equals, 1)
	c.Check(julianWeek(8), check.Equals, 2)
	c.Check(julianWeek(133), check.Equals, 19)
	c.Check(julianWeek(366), check.Equals, 53)
}

func (s *samplesSuite) TestSamplesRoundTrip(c *check.C) {
	in := intakeHeader +
		"OtsLRR20_001\t5/12/2020\tAngler\tLower Rogue\tHuntley Park\t\t\t\n" +
		"OtsLRR20_002\t9/15/2020\tCreel Survey\tLower Rogue\t\t\t\t\n"
	samples, err := loadSampleIntake(strings.NewReader(in))
	c.Assert(err, check.IsNil)
	var buf bytes.Buffer
	c.Assert(writeSamples(&buf, samples), check.IsNil)
	got, err := loadSamples(&buf)
	c.Assert(err, check.IsNil)
	c.Check(got, check.DeepEquals, samples)

	counts := weeklyCounts(got)
	c.Check(counts[19], check.Equals, 1)
	c.Check(counts[julianWeek(got[1].Jday)], check.Equals, 1)
}
