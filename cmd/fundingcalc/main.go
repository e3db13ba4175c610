package main

import "fundingcalc/internal/cli"

func main() {
	cli.Execute()
}
