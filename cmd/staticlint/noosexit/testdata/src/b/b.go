package main

import (
	"log"
	"os"
)

func shutdown() {
	os.Exit(0)
}

func main() {
	defer shutdown()
	log.Println("running")
}
