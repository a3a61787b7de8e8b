// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/salmonid-genetics/runtiming"
)

func main() {
	runtiming.Main()
}
