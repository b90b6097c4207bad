// Package filterstore loads the filter list that maps directions to
// impulse responses and resolves nearest-neighbour lookups against it at
// request time. It mirrors FilterStorage from the original synthesis
// engine: one dict+KD-tree pair per filter population (directional,
// late-reverb, directivity), plus an optional single headphone filter.
package filterstore

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	algofft "github.com/MeKo-Christian/algo-fft"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/binsim/binsynth-server/internal/filter"
	"github.com/binsim/binsynth-server/internal/filtercache"
	"github.com/binsim/binsynth-server/internal/pose"
	"github.com/binsim/binsynth-server/internal/wavio"
)

// Config describes the sizes and features a Store must be built for.
// Block counts are derived from each population's sample size divided
// by BlockSize, rounded up: a size that is not a multiple of BlockSize
// gets one zero-padded final block.
type Config struct {
	BlockSize int

	FilterSize int // directional BRIR length, in samples

	UseLateReverb  bool
	LateReverbSize int

	DirectivitySize int // DIRECTIVITY entries are always loaded; 0 keeps each file's own length

	UseHeadphoneFilter bool
	HeadphoneSize      int

	FilterListPath string

	// CachePath, if non-empty, points to an on-disk cache of the
	// directional population's prepared spectra. A hash mismatch or
	// missing file is treated as a cache miss, not an error: Load falls
	// back to decoding every WAV file and writes a fresh cache afterwards.
	CachePath string
}

// Store holds every filter population loaded from a filter-list file.
type Store struct {
	blockSize int

	directional population
	lateReverb  population
	directivity population

	headphoneEnabled bool
	headphone        *filter.Filter

	log *slog.Logger
}

// population is one dict+KD-tree pair: a named set of poses, each
// mapped to a prepared filter, searchable by nearest neighbour.
type population struct {
	name    string
	blocks  int
	plan    *algofft.PlanRealT[float32, complex64]
	entries map[string]*filter.Filter
	tree    *kdtree.Tree
	def     *filter.Filter
}

type indexedPoint struct {
	coord [2]float64
	key   string
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.coord[d] - c.(indexedPoint).coord[d]
}

func (p indexedPoint) Dims() int { return 2 }

func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.coord[0] - q.coord[0]
	dy := p.coord[1] - q.coord[1]
	return dx*dx + dy*dy
}

type indexedPoints []kdtree.Comparable

func (pts indexedPoints) Len() int { return len(pts) }
func (pts indexedPoints) Index(i int) kdtree.Comparable { return pts[i] }
func (pts indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{indexedPoints: pts, Dim: d}, kdtree.MedianOfMedians(plane{indexedPoints: pts, Dim: d}))
}
func (pts indexedPoints) Slice(start, end int) kdtree.Interface { return pts[start:end] }

type plane struct {
	indexedPoints
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.indexedPoints[i].(indexedPoint).coord[p.Dim] < p.indexedPoints[j].(indexedPoint).coord[p.Dim]
}
func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer { return plane{p.indexedPoints[start:end], p.Dim} }
func (p plane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// Load parses cfg.FilterListPath and builds every population it
// describes. Missing or malformed WAV files and parse errors are fatal
// (AssetError/ConfigError); an unresolved direction at query time is
// never fatal, only logged and answered with the population's default
// (silent) filter.
func Load(cfg Config) (*Store, error) {
	log := slog.Default().With("component", "filterstore")

	directionalBlocks := blocksFor(cfg.FilterSize, cfg.BlockSize)
	lateBlocks := blocksFor(cfg.LateReverbSize, cfg.BlockSize)
	dirBlocks := blocksFor(cfg.DirectivitySize, cfg.BlockSize)

	directionalPlan, err := algofft.NewPlanReal32(cfg.BlockSize * 2)
	if err != nil {
		return nil, fmt.Errorf("filterstore: build directional FFT plan: %w", err)
	}
	latePlan, err := algofft.NewPlanReal32(cfg.BlockSize * 2)
	if err != nil {
		return nil, fmt.Errorf("filterstore: build late-reverb FFT plan: %w", err)
	}
	dirPlan, err := algofft.NewPlanReal32(cfg.BlockSize * 2)
	if err != nil {
		return nil, fmt.Errorf("filterstore: build directivity FFT plan: %w", err)
	}

	s := &Store{
		blockSize: cfg.BlockSize,
		directional: population{
			name:    "directional",
			blocks:  directionalBlocks,
			plan:    directionalPlan,
			entries: make(map[string]*filter.Filter),
			def:     filter.NewSilent(directionalBlocks, cfg.BlockSize),
		},
		lateReverb: population{
			name:    "late-reverb",
			blocks:  lateBlocks,
			plan:    latePlan,
			entries: make(map[string]*filter.Filter),
			def:     filter.NewSilent(lateBlocks, cfg.BlockSize),
		},
		directivity: population{
			name:    "directivity",
			blocks:  dirBlocks,
			plan:    dirPlan,
			entries: make(map[string]*filter.Filter),
			def:     filter.NewSilent(dirBlocks, cfg.BlockSize),
		},
		headphoneEnabled: cfg.UseHeadphoneFilter,
		log:              log,
	}

	var headphonePlan *algofft.PlanRealT[float32, complex64]
	if cfg.UseHeadphoneFilter {
		headphonePlan, err = algofft.NewPlanReal32(cfg.BlockSize * 2)
		if err != nil {
			return nil, fmt.Errorf("filterstore: build headphone FFT plan: %w", err)
		}
	}

	entries, err := parseFilterList(cfg.FilterListPath)
	if err != nil {
		return nil, fmt.Errorf("filterstore: parse %q: %w", cfg.FilterListPath, err)
	}

	directionalPoints := make([]kdtree.Comparable, 0, len(entries))
	latePoints := make([]kdtree.Comparable, 0, len(entries))
	dirPoints := make([]kdtree.Comparable, 0, len(entries))

	var sourceHash [32]byte
	cacheHit := false
	if cfg.CachePath != "" {
		sourceHash, err = filtercache.HashFile(cfg.FilterListPath)
		if err != nil {
			log.Warn("filter cache: could not hash filter list, skipping cache", "error", err)
		} else if cached, err := filtercache.Read(cfg.CachePath, sourceHash); err == nil {
			for _, ce := range cached {
				f := filter.FromSpectra(ce.Left, ce.Right, ce.BlockSize)
				s.directional.entries[ce.Key] = f
				p, err := pose.ParseKey(ce.Key)
				if err != nil {
					log.Warn("filter cache: skipping unparseable key", "key", ce.Key, "error", err)
					continue
				}
				az, el := p.Coord()
				directionalPoints = append(directionalPoints, indexedPoint{coord: [2]float64{float64(az), float64(el)}, key: ce.Key})
			}
			cacheHit = len(directionalPoints) > 0
			if cacheHit {
				log.Info("filter cache: loaded directional population from cache", "entries", len(directionalPoints))
			}
		} else {
			log.Info("filter cache: miss, loading from source", "path", cfg.CachePath, "reason", err)
		}
	}

	for _, e := range entries {
		switch e.kind {
		case kindHeadphone:
			if !cfg.UseHeadphoneFilter {
				log.Info("skipping headphone filter", "path", e.path)
				continue
			}
			log.Info("loading headphone filter", "path", e.path)
			f, err := loadFilter(e.path, cfg.HeadphoneSize, cfg.BlockSize, headphonePlan)
			if err != nil {
				return nil, fmt.Errorf("filterstore: headphone filter: %w", err)
			}
			s.headphone = f

		case kindDirectional:
			if cacheHit {
				continue
			}
			f, err := loadFilter(e.path, cfg.FilterSize, cfg.BlockSize, directionalPlan)
			if err != nil {
				return nil, fmt.Errorf("filterstore: directional filter %q: %w", e.path, err)
			}
			key := e.pose.Key()
			s.directional.entries[key] = f
			az, el := e.pose.Coord()
			directionalPoints = append(directionalPoints, indexedPoint{coord: [2]float64{float64(az), float64(el)}, key: key})

		case kindLateReverb:
			if !cfg.UseLateReverb {
				log.Info("skipping late-reverb filter", "path", e.path)
				continue
			}
			f, err := loadFilter(e.path, cfg.LateReverbSize, cfg.BlockSize, latePlan)
			if err != nil {
				return nil, fmt.Errorf("filterstore: late-reverb filter %q: %w", e.path, err)
			}
			key := e.pose.Key()
			s.lateReverb.entries[key] = f
			az, el := e.pose.Coord()
			latePoints = append(latePoints, indexedPoint{coord: [2]float64{float64(az), float64(el)}, key: key})

		case kindDirectivity:
			f, err := loadFilter(e.path, cfg.DirectivitySize, cfg.BlockSize, dirPlan)
			if err != nil {
				return nil, fmt.Errorf("filterstore: directivity filter %q: %w", e.path, err)
			}
			key := e.pose.Key()
			s.directivity.entries[key] = f
			az, el := e.pose.Coord()
			dirPoints = append(dirPoints, indexedPoint{coord: [2]float64{float64(az), float64(el)}, key: key})
		}
	}

	if cfg.UseHeadphoneFilter && s.headphone == nil {
		return nil, fmt.Errorf("filterstore: headphone filter enabled but no HPFILTER entry found in %q", cfg.FilterListPath)
	}
	if len(directionalPoints) == 0 {
		return nil, fmt.Errorf("filterstore: no directional filters loaded from %q", cfg.FilterListPath)
	}

	s.directional.tree = kdtree.New(indexedPoints(directionalPoints), false)
	if len(latePoints) > 0 {
		s.lateReverb.tree = kdtree.New(indexedPoints(latePoints), false)
	}
	if len(dirPoints) > 0 {
		s.directivity.tree = kdtree.New(indexedPoints(dirPoints), false)
	}

	log.Info("filters loaded",
		"directional", len(s.directional.entries),
		"lateReverb", len(s.lateReverb.entries),
		"directivity", len(s.directivity.entries),
	)

	if cfg.CachePath != "" && !cacheHit {
		if err := writeDirectionalCache(cfg.CachePath, sourceHash, s.directional.entries); err != nil {
			log.Warn("filter cache: failed to write cache, continuing without it", "error", err)
		} else {
			log.Info("filter cache: wrote directional population", "path", cfg.CachePath)
		}
	}

	return s, nil
}

func writeDirectionalCache(path string, sourceHash [32]byte, entries map[string]*filter.Filter) error {
	cacheEntries := make([]filtercache.Entry, 0, len(entries))
	for key, f := range entries {
		left, right, err := f.Spectra()
		if err != nil {
			return err
		}
		cacheEntries = append(cacheEntries, filtercache.Entry{
			Key:       key,
			BlockSize: f.BlockSize(),
			Left:      left,
			Right:     right,
		})
	}
	return filtercache.Write(path, sourceHash, cacheEntries)
}

func blocksFor(size, blockSize int) int {
	if size <= 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}

func loadFilter(path string, targetSize, blockSize int, plan *algofft.PlanRealT[float32, complex64]) (*filter.Filter, error) {
	samples, err := wavio.DecodeStereo(path)
	if err != nil {
		return nil, err
	}
	if targetSize > 0 {
		samples = wavio.ResizeFrames(samples, targetSize)
	}
	f, err := filter.FromInterleavedStereo(samples, blockSize)
	if err != nil {
		return nil, err
	}
	f.Name = path
	if err := f.Prepare(plan); err != nil {
		return nil, err
	}
	return f, nil
}

// Nearest resolves p against the directional population.
func (s *Store) Nearest(p pose.Pose) *filter.Filter {
	return s.directional.nearest(p, s.log)
}

// NearestLateReverb resolves p against the late-reverb population.
func (s *Store) NearestLateReverb(p pose.Pose) *filter.Filter {
	return s.lateReverb.nearest(p, s.log)
}

// NearestDirectivity resolves p against the directivity population.
func (s *Store) NearestDirectivity(p pose.Pose) *filter.Filter {
	return s.directivity.nearest(p, s.log)
}

// Headphone returns the loaded headphone-compensation filter, or nil
// if none is configured.
func (s *Store) Headphone() *filter.Filter {
	return s.headphone
}

// Summary reports how many entries each population loaded, for
// diagnostics and filter-list validation tooling.
type Summary struct {
	Directional, LateReverb, Directivity int
	Headphone                            bool
}

// Summary returns the population sizes this Store was built with.
func (s *Store) Summary() Summary {
	return Summary{
		Directional: len(s.directional.entries),
		LateReverb:  len(s.lateReverb.entries),
		Directivity: len(s.directivity.entries),
		Headphone:   s.headphone != nil,
	}
}

func (p *population) nearest(target pose.Pose, log *slog.Logger) *filter.Filter {
	if p.tree == nil {
		return p.def
	}
	az, el := target.Coord()
	q := indexedPoint{coord: [2]float64{float64(az), float64(el)}}
	got, _ := p.tree.Nearest(q)
	if got == nil {
		return p.def
	}
	ip := got.(indexedPoint)
	f, ok := p.entries[ip.key]
	if !ok {
		log.Warn("filter lookup miss, using default", "population", p.name, "azimuth", az, "elevation", el)
		return p.def
	}
	return f
}

type entryKind int

const (
	kindDirectional entryKind = iota
	kindLateReverb
	kindDirectivity
	kindHeadphone
)

type listEntry struct {
	kind entryKind
	pose pose.Pose
	path string
}

// parseFilterList mirrors the original line format:
//
//	0 0 40 1 1 0 0 0 0 path/to.wav            (legacy, digit-prefixed)
//	FILTER 0 0 40 1 1 0 0 0 0 path/to.wav
//	LATEREVERB 0 0 path/to.wav
//	DIRECTIVITY 0 0 path/to.wav
//	HPFILTER path/to.wav
//
// Blank lines and lines starting with '#' are skipped.
func parseFilterList(path string) ([]listEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var entries []listEntry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens := strings.Fields(line)
		if len(tokens) < 1 {
			continue
		}

		if tokens[0] == "HPFILTER" {
			entries = append(entries, listEntry{kind: kindHeadphone, path: tokens[len(tokens)-1]})
			continue
		}

		var kind entryKind
		var fieldTokens []string
		filterPath := tokens[len(tokens)-1]

		switch {
		case isDigitToken(tokens[0]):
			kind = kindDirectional
			fieldTokens = tokens[:len(tokens)-1]
		case tokens[0] == "FILTER":
			kind = kindDirectional
			fieldTokens = tokens[1 : len(tokens)-1]
		case tokens[0] == "LATEREVERB":
			kind = kindLateReverb
			fieldTokens = tokens[1 : len(tokens)-1]
		case tokens[0] == "DIRECTIVITY":
			kind = kindDirectivity
			fieldTokens = tokens[1 : len(tokens)-1]
		default:
			return nil, fmt.Errorf("line %d: filter identifier wrong or missing: %q", lineNo, line)
		}

		fields := make([]int, len(fieldTokens))
		for i, tok := range fieldTokens {
			v, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("line %d: non-integer pose field %q: %w", lineNo, tok, err)
			}
			fields[i] = v
		}

		entries = append(entries, listEntry{kind: kind, pose: pose.FromFields(fields), path: filterPath})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return entries, nil
}

func isDigitToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			if r == '-' {
				continue
			}
			return false
		}
	}
	return true
}
