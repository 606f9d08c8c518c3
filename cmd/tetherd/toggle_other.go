// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package main

import "os"

func toggleSignals() []os.Signal {
	return nil
}
