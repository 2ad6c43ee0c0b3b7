package buildinfo

import (
	"fmt"
	"io"
)

// Build information is injected via -ldflags at build time.
var Version string
var Date string
var Commit string

func normalize(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Print writes the build banner to w.
func Print(w io.Writer, version, date, commit string) {
	fmt.Fprintf(w, "Build version: %s\n", normalize(version))
	fmt.Fprintf(w, "Build date: %s\n", normalize(date))
	fmt.Fprintf(w, "Build commit: %s\n", normalize(commit))
}

// PrintSelf prints the values linked into this binary.
func PrintSelf(w io.Writer) {
	Print(w, Version, Date, Commit)
}

// String returns the one-line form used in startup logs.
func String() string {
	return fmt.Sprintf("%s (%s, %s)", normalize(Version), normalize(Commit), normalize(Date))
}
