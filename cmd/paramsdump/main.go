package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/23skdu/longbow-descant/internal/config"
	"github.com/23skdu/longbow-descant/internal/prior"
)

var (
	paramsPath  = flag.String("params", "", "Path to params JSON")
	weightsPath = flag.String("weights", "", "Path to weights checkpoint")
)

func main() {
	flag.Parse()
	if *paramsPath == "" && *weightsPath == "" {
		fmt.Println("Usage: paramsdump -params <file> [-weights <file>]")
		os.Exit(1)
	}

	if *paramsPath != "" {
		p, err := config.Load(*paramsPath)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		out, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n", out)

		for _, level := range []config.Level{config.LevelSource, config.LevelTarget} {
			f, d, err := p.Shape(level)
			if err != nil {
				continue
			}
			n, _ := p.SequenceLength(level)
			fmt.Printf("%s: %dx%d grid, sequence length %d\n", level, f, d, n)
		}
	}

	if *weightsPath != "" {
		infos, err := prior.ReadManifest(*weightsPath)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		total := int64(0)
		for _, t := range infos {
			fmt.Printf("%s: Shape=%v Elems=%d\n", t.Name, t.Dims, t.Elems())
			total += t.Elems()
		}
		fmt.Printf("%d tensors, %d parameters\n", len(infos), total)
	}
}
