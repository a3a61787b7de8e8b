// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type span struct {
	start int
	end   int
}

type spanTreeNode struct {
	span   span
	maxend int
}

type spanTree []spanTreeNode

// regionSet is a set of chromosome intervals, e.g. the GREB1L/ROCK1
// region on Ots28. Add intervals, Freeze, then query marker
// positions with Contains.
type regionSet struct {
	spans  map[string][]span
	trees  map[string]spanTree
	frozen bool
}

// parseRegions parses comma-separated chrom:start-end intervals
// (1-based, inclusive).
func parseRegions(s string) (*regionSet, error) {
	rs := &regionSet{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ci := strings.IndexByte(part, ':')
		di := strings.LastIndexByte(part, '-')
		if ci < 1 || di < ci {
			return nil, fmt.Errorf("invalid region %q (want chrom:start-end)", part)
		}
		start, err := strconv.Atoi(part[ci+1 : di])
		if err != nil {
			return nil, fmt.Errorf("invalid region %q: %w", part, err)
		}
		end, err := strconv.Atoi(part[di+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid region %q: %w", part, err)
		}
		if end < start {
			return nil, fmt.Errorf("invalid region %q: end before start", part)
		}
		rs.Add(part[:ci], start, end)
	}
	rs.Freeze()
	return rs, nil
}

func (rs *regionSet) Add(chrom string, start, end int) {
	if rs.spans == nil {
		rs.spans = map[string][]span{}
	}
	rs.spans[chrom] = append(rs.spans[chrom], span{start, end})
}

func (rs *regionSet) Freeze() {
	rs.trees = map[string]spanTree{}
	for chrom, spans := range rs.spans {
		rs.trees[chrom] = buildSpanTree(spans)
	}
	rs.frozen = true
}

func (rs *regionSet) Empty() bool {
	return len(rs.spans) == 0
}

// Contains reports whether the given marker position falls inside
// any interval of the set.
func (rs *regionSet) Contains(chrom string, pos int) bool {
	if !rs.frozen {
		panic("bug: (*regionSet)Contains() called before Freeze()")
	}
	return rs.trees[chrom].check(0, span{pos, pos})
}

func buildSpanTree(in []span) spanTree {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		return in[i].start < in[j].start
	})
	size := 1
	for size < len(in) {
		size = size * 2
	}
	tree := make(spanTree, size)
	tree.importSlice(0, in)
	for i := len(in); i < size; i++ {
		tree[i].maxend = -1
	}
	return tree
}

func (tree spanTree) check(root int, q span) bool {
	return root < len(tree) &&
		tree[root].maxend >= q.start &&
		((tree[root].span.start <= q.end && tree[root].span.end >= q.start) ||
			tree.check(root*2+1, q) ||
			tree.check(root*2+2, q))
}

func (tree spanTree) importSlice(root int, in []span) int {
	mid := len(in) / 2
	node := spanTreeNode{span: in[mid], maxend: in[mid].end}
	if mid > 0 {
		end := tree.importSlice(root*2+1, in[0:mid])
		if end > node.maxend {
			node.maxend = end
		}
	}
	if mid+1 < len(in) {
		end := tree.importSlice(root*2+2, in[mid+1:])
		if end > node.maxend {
			node.maxend = end
		}
	}
	tree[root] = node
	return node.maxend
}
