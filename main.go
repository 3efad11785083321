package main

import (
	"log"

	"github.com/thiagokokada/gitcore/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("gitcore: %v", err)
	}
}
