package main

import (
	"os"
	"strings"
	"text/tabwriter"
)

func newTabwriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
}

func makeExample(examples ...string) string {
	var out []string
	for _, ex := range examples {
		out = append(out, "  "+ex)
	}
	return strings.Join(out, "\n")
}
