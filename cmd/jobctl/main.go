package main

import (
	"fmt"
	"os"

	"github.com/Subhanamir19/faccely-sub002/cmd/jobctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
