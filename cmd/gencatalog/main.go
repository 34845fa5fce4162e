package main

import (
	"flag"
	"log"

	"salon/internal/catalog"
)

func main() {
	var outputFile string
	flag.StringVar(&outputFile, "output", "catalog.json", "output file")
	flag.Parse()

	c := catalog.Default()
	if err := catalog.Write(outputFile, c); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
	log.Printf("wrote %d products and %d services to %s", len(c.Products), len(c.Services), outputFile)
}
