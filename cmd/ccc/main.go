package main

import (
	"os"

	"github.com/casewise/ccc/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
