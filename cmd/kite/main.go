package main

import (
	"github.com/opensource-finance/kite/internal/cli"
)

func main() {
	cli.Execute()
}
