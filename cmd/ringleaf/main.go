// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

func main() {
	execute()
}
