package main

import "github.com/vsagcr/scopeprep/internal/cli"

func main() {
	cli.Execute()
}
