package main

import (
	"log"

	"manifestdb/cmd/mdb/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
