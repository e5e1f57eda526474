package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/avitch/tagscope/core"
	"github.com/avitch/tagscope/core/engine"
	"github.com/avitch/tagscope/core/image"
)

func main() {
	args := os.Args[1:]
	jsonMode := false
	verbose := false
	var rest []string
	for _, a := range args {
		switch a {
		case "-json", "--json":
			jsonMode = true
		case "-v", "--verbose":
			verbose = true
		default:
			rest = append(rest, a)
		}
	}

	if len(rest) < 2 || rest[0] != "view" {
		fmt.Println("Usage: tagscope view [-json] [-v] <file>")
		os.Exit(1)
	}
	file := rest[1]

	format, err := core.DetectFormat(file)
	if err != nil {
		core.PrintError(err.Error())
		os.Exit(1)
	}

	seg, err := image.LocateFile(file)
	if err != nil {
		if errors.Is(err, image.ErrNoMetadata) {
			core.PrintError("no metadata found in " + file)
		} else {
			core.PrintError(err.Error())
		}
		os.Exit(1)
	}

	res, err := engine.Default().Extract(seg.Data, seg.Order, seg.Base, seg.DirOffset)
	if err != nil {
		core.PrintError(err.Error())
		os.Exit(1)
	}

	p := core.NewPrinter(jsonMode, verbose)
	p.PrintTags(file, format, res.Tags, res.Warnings)
}
