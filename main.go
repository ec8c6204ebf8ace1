// Package main is the entry point for the covguard CLI.
package main

import "covguard.dev/pkg/covguard/cmd"

func main() {
	cmd.Execute()
}
