package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Printer handles all display output for the CLI.
type Printer struct {
	JSON    bool
	Verbose bool
	Writer  io.Writer
}

// NewPrinter creates a default Printer writing to stdout.
func NewPrinter(jsonMode, verbose bool) *Printer {
	return &Printer{JSON: jsonMode, Verbose: verbose, Writer: os.Stdout}
}

// PrintTags renders an extracted tag set to the configured output. In
// verbose mode the raw value is shown next to the display string.
func (p *Printer) PrintTags(path string, format FormatID, set *TagSet, warns []Warning) {
	if p.JSON {
		p.printJSON(path, format, set, warns)
		return
	}
	p.printText(path, format, set, warns)
}

func (p *Printer) printText(path string, format FormatID, set *TagSet, warns []Warning) {
	fmt.Fprintf(p.Writer, "File  : %s\n", path)
	fmt.Fprintf(p.Writer, "Format: %s\n", format)
	if set.Len() == 0 {
		fmt.Fprintln(p.Writer, "(no metadata found)")
		return
	}
	fmt.Fprintln(p.Writer)

	// Group in first-seen order
	groups := make(map[string][]*Entry)
	order := []string{}
	for _, e := range set.Entries() {
		if _, ok := groups[e.Group]; !ok {
			order = append(order, e.Group)
		}
		groups[e.Group] = append(groups[e.Group], e)
	}

	for _, g := range order {
		fmt.Fprintf(p.Writer, "── %s ──\n", g)
		for _, e := range groups[g] {
			if p.Verbose {
				fmt.Fprintf(p.Writer, "  %-30s %s (raw: %s)\n", e.Name+":", e.Print, e.Raw.String())
			} else {
				fmt.Fprintf(p.Writer, "  %-30s %s\n", e.Name+":", e.Print)
			}
		}
		fmt.Fprintln(p.Writer)
	}

	if len(warns) > 0 {
		fmt.Fprintln(p.Writer, "── Warnings ──")
		for _, w := range warns {
			fmt.Fprintf(p.Writer, "  %s\n", w)
		}
	}
}

func (p *Printer) printJSON(path string, format FormatID, set *TagSet, warns []Warning) {
	type jsonTag struct {
		Group string `json:"group"`
		Name  string `json:"name"`
		Value string `json:"value"`
		Print string `json:"print"`
		Raw   string `json:"raw,omitempty"`
	}
	type jsonOutput struct {
		FilePath string    `json:"file"`
		Format   string    `json:"format"`
		Tags     []jsonTag `json:"tags"`
		Warnings []string  `json:"warnings,omitempty"`
	}

	out := jsonOutput{FilePath: path, Format: string(format)}
	for _, e := range set.Entries() {
		t := jsonTag{Group: e.Group, Name: e.Name, Value: e.Value.String(), Print: e.Print}
		if p.Verbose {
			t.Raw = e.Raw.String()
		}
		out.Tags = append(out.Tags, t)
	}
	for _, w := range warns {
		out.Warnings = append(out.Warnings, w.String())
	}

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(p.Writer, string(b))
}

// PrintInfo prints an info line (suppressed in JSON mode).
func (p *Printer) PrintInfo(msg string) {
	if !p.JSON {
		fmt.Fprintln(p.Writer, msg)
	}
}

// PrintError prints an error to stderr.
func PrintError(msg string) {
	fmt.Fprintln(os.Stderr, "✗ Error: "+msg)
}
