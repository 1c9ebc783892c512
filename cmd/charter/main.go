package main

import (
	"github.com/charterhq/charter/internal/cli"
)

func main() {
	cli.Execute()
}
