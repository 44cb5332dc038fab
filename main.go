package main

import (
	"log"

	"github.com/clanwyse/halo/cmd"
)

func main() {
	if err := cmd.RootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
