package main

import "github.com/tansive/kernelexec/internal/cli"

func main() {
	cli.Execute()
}
