// frame-index - frame archive cataloging and overlap reporting
//
// Scans the event tree into per-file records, then optionally:
//   - inserts them into ClickHouse with native columnar batches
//   - exports them as a Parquet catalog
//   - reports timestamps shared across events (from the scan or from a
//     previously ingested ClickHouse catalog)
//   - filters events against the flare cache by minimum GOES class
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/frame-index ./cmd/frame-index

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ClickHouse/ch-go"

	"github.com/pocky-solar/dem-pipeline/internal/catalog"
	"github.com/pocky-solar/dem-pipeline/internal/common"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func main() {
	cfg := common.DefaultConfig()

	inputRoot := flag.String("input", cfg.FrameDataDir(), "Input root of event directories")
	readExposure := flag.Bool("read-exposure", false, "Open FITS headers to record EXPTIME")
	chHost := flag.String("ch-host", fmt.Sprintf("%s:%d", cfg.ClickHouseHost, cfg.ClickHousePort), "ClickHouse address")
	chDB := flag.String("ch-db", cfg.ClickHouseDatabase, "ClickHouse database")
	chTable := flag.String("ch-table", "frames", "ClickHouse table")
	ingest := flag.Bool("ingest", false, "Insert scanned records into ClickHouse")
	truncate := flag.Bool("truncate", false, "Truncate table before insert")
	parquetOut := flag.String("parquet", "", "Export scanned records to a Parquet file")
	overlaps := flag.Bool("overlaps", false, "Report timestamps shared across events")
	overlapsDB := flag.Bool("overlaps-db", false, "Report overlaps from the ClickHouse catalog instead of the scan")
	minCount := flag.Int("min-count", 2, "Minimum events sharing a timestamp to report")
	maxPerTS := flag.Int("max-per-ts", 10, "Max event names shown per timestamp")
	flareCache := flag.String("flare-cache", "", "Flare cache TSV for class filtering")
	minClass := flag.String("min-class", "", "Minimum GOES class (e.g. M1.0) when -flare-cache is set")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "frame-index v%s - Frame Archive Catalog\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Catalogs observation frames and reports cross-event overlaps.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Println("=========================================================")
	log.Printf("Frame Index v%s", Version)
	log.Println("=========================================================")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nShutdown requested...")
		cancel()
	}()

	startTime := time.Now()

	if *overlapsDB {
		reportDBOverlaps(ctx, cfg, *chHost, *chDB, *chTable, *minCount, *maxPerTS)
		return
	}

	log.Printf("Scanning %s...", *inputRoot)
	frames, err := catalog.Scan(*inputRoot, catalog.ScanOptions{ReadExposure: *readExposure})
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	log.Printf("Found %d frame(s)", len(frames))

	if *flareCache != "" {
		frames = filterByFlareCache(frames, *flareCache, *minClass)
		log.Printf("After flare filter: %d frame(s)", len(frames))
	}

	if *parquetOut != "" {
		if err := catalog.SaveParquet(*parquetOut, frames); err != nil {
			log.Fatalf("Parquet export failed: %v", err)
		}
		log.Printf("Exported catalog to %s", *parquetOut)
	}

	inserted := 0
	if *ingest {
		inserted = ingestFrames(ctx, frames, *chHost, *chDB, *chTable, *truncate)
	}

	if *overlaps {
		for _, o := range catalog.Overlaps(frames, *minCount) {
			fmt.Println(o.Format(*maxPerTS))
		}
	}

	elapsed := time.Since(startTime)
	log.Println()
	log.Println("=========================================================")
	log.Println("Final Statistics")
	log.Println("=========================================================")
	log.Printf("Frames Scanned: %d", len(frames))
	log.Printf("Rows Inserted:  %d", inserted)
	log.Printf("Elapsed:        %v", elapsed.Round(time.Millisecond))
	log.Println("=========================================================")
}

// filterByFlareCache keeps frames whose event matches a cached flare at or
// above the minimum class. Events without a cache entry are dropped.
func filterByFlareCache(frames []catalog.Frame, cachePath, minClass string) []catalog.Frame {
	flares, err := catalog.LoadFlareCache(cachePath)
	if err != nil {
		log.Fatalf("Flare cache error: %v", err)
	}
	if minClass != "" {
		cls, err := catalog.ParseFlareClass(minClass)
		if err != nil {
			log.Fatalf("Invalid -min-class: %v", err)
		}
		flares = catalog.FilterByClass(flares, cls)
	}
	keys := make(map[string]bool, len(flares))
	for _, f := range flares {
		keys[f.EventKey()] = true
	}
	var out []catalog.Frame
	for _, fr := range frames {
		if keys[fr.Event] {
			out = append(out, fr)
		}
	}
	return out
}

func ingestFrames(ctx context.Context, frames []catalog.Frame,
	chHost, chDB, chTable string, truncate bool) int {

	log.Printf("Connecting to ClickHouse at %s...", chHost)
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     chHost,
		Database:    chDB,
		Compression: ch.CompressionLZ4,
	})
	if err != nil {
		log.Fatalf("ClickHouse connection failed: %v", err)
	}
	defer conn.Close()

	tableFQN := fmt.Sprintf("%s.%s", chDB, chTable)
	log.Printf("Table: %s", tableFQN)

	if err := catalog.CreateFramesTable(ctx, conn, tableFQN); err != nil {
		log.Fatalf("Table creation failed: %v", err)
	}
	if truncate {
		log.Printf("Truncating table %s...", tableFQN)
		if err := conn.Do(ctx, ch.Query{Body: "TRUNCATE TABLE " + tableFQN}); err != nil {
			log.Printf("Truncate warning: %v", err)
		}
	}

	const batchSize = 100000
	batch := catalog.NewFrameBatch()
	inserted := 0
	for _, f := range frames {
		batch.Add(f)
		if batch.Len() >= batchSize {
			if err := catalog.FlushFrames(ctx, conn, tableFQN, batch); err != nil {
				log.Fatalf("Insert error: %v", err)
			}
			inserted += batch.Len()
			batch.Reset()
		}
	}
	if batch.Len() > 0 {
		if err := catalog.FlushFrames(ctx, conn, tableFQN, batch); err != nil {
			log.Fatalf("Insert error: %v", err)
		}
		inserted += batch.Len()
	}
	log.Printf("Inserted %d records", inserted)
	return inserted
}

func reportDBOverlaps(ctx context.Context, cfg *common.Config,
	chHost, chDB, chTable string, minCount, maxPerTS int) {

	conn, err := catalog.OpenQueryConn(chHost, chDB, cfg.ClickHouseUser, cfg.ClickHousePassword)
	if err != nil {
		log.Fatalf("ClickHouse connection failed: %v", err)
	}
	defer conn.Close()

	tableFQN := chTable
	if !strings.Contains(tableFQN, ".") {
		tableFQN = chDB + "." + tableFQN
	}
	overlaps, err := catalog.QueryOverlaps(ctx, conn, tableFQN, minCount)
	if err != nil {
		log.Fatalf("Overlap query failed: %v", err)
	}
	if len(overlaps) == 0 {
		log.Println("No overlaps found.")
		return
	}
	for _, o := range overlaps {
		fmt.Println(o.Format(maxPerTS))
	}
}
