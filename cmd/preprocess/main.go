package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rail_router/pkg/infra"
	"rail_router/pkg/logging"
	osmparser "rail_router/pkg/osm"
)

func main() {
	input := flag.String("input", "", "Path to .osm.pbf (or .osm XML) file")
	output := flag.String("output", "infra.yaml", "Output infra YAML file path")
	name := flag.String("name", "", "Infra name (default: input file base name)")
	bbox := flag.String("bbox", "", "Bounding box filter: minLat,minLng,maxLat,maxLng (e.g. 48.7,2.2,49.0,2.5)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	log, err := logging.New(*logLevel, "text", os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: preprocess --input <file.osm.pbf> [--output infra.yaml] [--name NAME] [--bbox minLat,minLng,maxLat,maxLng]")
		os.Exit(1)
	}
	if *name == "" {
		*name = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(*input), ".pbf"), ".osm")
	}

	opts := osmparser.ParseOptions{Logger: log}
	if *bbox != "" {
		var minLat, minLng, maxLat, maxLng float64
		_, err := fmt.Sscanf(*bbox, "%f,%f,%f,%f", &minLat, &minLng, &maxLat, &maxLng)
		if err != nil {
			log.Error("invalid bbox format (expected minLat,minLng,maxLat,maxLng)", "err", err)
			os.Exit(1)
		}
		opts.BBox = osmparser.BBox{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}
		log.Info("using bounding box filter", "lat", fmt.Sprintf("[%.4f, %.4f]", minLat, maxLat), "lng", fmt.Sprintf("[%.4f, %.4f]", minLng, maxLng))
	}

	start := time.Now()

	// Step 1: Parse OSM data.
	log.Info("parsing OSM data", "input", *input)
	f, err := os.Open(*input)
	if err != nil {
		log.Error("failed to open input file", "err", err)
		os.Exit(1)
	}
	defer f.Close()

	parse := osmparser.Parse
	if strings.HasSuffix(*input, ".osm") || strings.HasSuffix(*input, ".xml") {
		parse = osmparser.ParseXML
	}
	parseResult, err := parse(context.Background(), f, opts)
	if err != nil {
		log.Error("failed to parse OSM data", "err", err)
		os.Exit(1)
	}
	log.Info("parsed", "ways", len(parseResult.Ways), "nodes", len(parseResult.NodeLat))

	// Step 2: Split into track sections, keep the largest connected
	// component and derive routes.
	desc, stats := osmparser.BuildDescription(parseResult, *name)
	log.Info("track sections built",
		"segments", stats.Segments,
		"kept", stats.Tracks,
		"routes", stats.Routes,
		"switches", stats.Switches,
		"buffer_stops", stats.BufferStops,
	)

	// Step 3: Validate by building the infra.
	in, err := infra.Build(desc)
	if err != nil {
		log.Error("built infra is invalid", "err", err)
		os.Exit(1)
	}
	log.Info("infra valid", "tracks", in.NumTracks(), "routes", in.NumRoutes())

	// Step 4: Write YAML.
	out, err := os.Create(*output)
	if err != nil {
		log.Error("failed to create output", "err", err)
		os.Exit(1)
	}
	if err := infra.EncodeYAML(out, desc); err != nil {
		out.Close()
		log.Error("failed to write infra", "err", err)
		os.Exit(1)
	}
	if err := out.Close(); err != nil {
		log.Error("failed to close output", "err", err)
		os.Exit(1)
	}

	info, _ := os.Stat(*output)
	log.Info("done",
		"elapsed", time.Since(start).Round(time.Second),
		"output", *output,
		"size_mb", fmt.Sprintf("%.1f", float64(info.Size())/(1024*1024)),
	)
}
