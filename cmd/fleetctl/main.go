package main

import (
	"github.com/pressfleet/pressfleet/internal/cli"
)

func main() {
	cli.Execute()
}
