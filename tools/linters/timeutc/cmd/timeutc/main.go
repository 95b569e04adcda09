package main

import (
	"github.com/schedcore/schedcore/tools/linters/timeutc"
	"golang.org/x/tools/go/analysis/singlechecker"
)

func main() {
	singlechecker.Main(timeutc.Analyzer)
}
