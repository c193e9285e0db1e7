package main

import (
	"os"

	brunomemcmder "github.com/meggy-ai/bruno-core-sub000/cmd/brunomem"
)

func main() {
	cmd := brunomemcmder.NewBrunomemCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
