// Command filterlistcheck validates a filter-list file and the WAV
// assets it references without starting the synthesis engine.
//
// Usage:
//
//	filterlistcheck [options] <filter-list>
//
// Options:
//
//	-blockSize         Block size in samples (default: 256)
//	-filterSize        Directional filter length in samples (default: 16384)
//	-lateReverb        Validate late-reverb entries (default: false)
//	-lateReverbSize    Late-reverb filter length in samples (default: 0)
//	-directivitySize   Directivity filter length in samples (default: 0)
//	-headphone         Require a headphone-compensation filter (default: false)
//	-headphoneSize     Headphone filter length in samples (default: 16384)
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/binsim/binsynth-server/internal/filterstore"
)

var (
	blockSize       = flag.Int("blockSize", 256, "Block size in samples")
	filterSize      = flag.Int("filterSize", 16384, "Directional filter length in samples")
	lateReverb      = flag.Bool("lateReverb", false, "Validate late-reverb entries")
	lateReverbSize  = flag.Int("lateReverbSize", 0, "Late-reverb filter length in samples")
	directivitySize = flag.Int("directivitySize", 0, "Directivity filter length in samples")
	headphone       = flag.Bool("headphone", false, "Require a headphone-compensation filter")
	headphoneSize   = flag.Int("headphoneSize", 16384, "Headphone filter length in samples")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <filter-list>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Validates a filter list and its referenced WAV files.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(listPath string) error {
	store, err := filterstore.Load(filterstore.Config{
		BlockSize:          *blockSize,
		FilterSize:         *filterSize,
		UseLateReverb:      *lateReverb,
		LateReverbSize:     *lateReverbSize,
		DirectivitySize:    *directivitySize,
		UseHeadphoneFilter: *headphone,
		HeadphoneSize:      *headphoneSize,
		FilterListPath:     listPath,
	})
	if err != nil {
		return err
	}

	summary := store.Summary()
	fmt.Printf("Filter list: %s\n", listPath)
	fmt.Printf("%-14s %6s\n", "Population", "Count")
	fmt.Printf("%-14s %6d\n", "directional", summary.Directional)
	fmt.Printf("%-14s %6d\n", "late-reverb", summary.LateReverb)
	fmt.Printf("%-14s %6d\n", "directivity", summary.Directivity)
	fmt.Printf("%-14s %6v\n", "headphone", summary.Headphone)

	return nil
}
