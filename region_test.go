// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"math/rand"

	"gopkg.in/check.v1"
)

type regionSuite struct{}

var _ = check.Suite(&regionSuite{})

func (s *regionSuite) TestParseRegions(c *check.C) {
	rs, err := parseRegions("Ots28:11000000-11300000,Ots28:12100000-12200000")
	c.Assert(err, check.IsNil)
	c.Check(rs.Contains("Ots28", 11062912), check.Equals, true)
	c.Check(rs.Contains("Ots28", 11000000), check.Equals, true)
	c.Check(rs.Contains("Ots28", 11300000), check.Equals, true)
	c.Check(rs.Contains("Ots28", 11300001), check.Equals, false)
	c.Check(rs.Contains("Ots28", 12150000), check.Equals, true)
	c.Check(rs.Contains("Ots17", 11062912), check.Equals, false)

	for _, bad := range []string{"Ots28", "Ots28:abc-123", "Ots28:100-abc", "Ots28:300-100", ":100-200"} {
		_, err := parseRegions(bad)
		c.Check(err, check.NotNil, check.Commentf("%q", bad))
	}
}

func (s *regionSuite) TestRegionSetDense(c *check.C) {
	rs := &regionSet{}
	for i := 0; i < 100000; i++ {
		start := rand.Int() % 10000000
		end := rand.Int()%300 + start
		if start <= 5000008 && end >= 5000000 {
			continue
		}
		rs.Add("Ots28", start, end)
	}
	rs.Add("Ots28", 5000001, 5000003)
	rs.Freeze()
	c.Check(rs.Contains("Ots28", 5000002), check.Equals, true)
	c.Check(rs.Contains("Ots28", 5000006), check.Equals, false)
	c.Check(rs.Contains("Ots99", 5000002), check.Equals, false)
}
