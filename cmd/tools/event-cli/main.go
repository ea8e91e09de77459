package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/annel0/voxel-terrain/internal/eventbus"
)

const (
	defaultNatsURL = "nats://127.0.0.1:4222"
	timeFormat     = "15:04:05"
)

func main() {
	var (
		natsURL    = flag.String("nats", defaultNatsURL, "NATS server URL")
		stream     = flag.String("stream", "TERRAIN", "JetStream stream name")
		command    = flag.String("cmd", "tail", "Command: tail, types")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		limit      = flag.Int("limit", 0, "Stop after N events (0 = follow forever)")
	)
	flag.Parse()

	switch *command {
	case "tail":
		if err := tailEvents(*natsURL, *stream, parseStringList(*eventTypes), *limit); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}
	case "types":
		showTypes()
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, types")
		os.Exit(1)
	}
}

// tailEvents выводит новые события ландшафта до Ctrl+C или лимита
func tailEvents(url, stream string, types []string, limit int) error {
	bus, err := eventbus.NewJetStreamBus(url, stream, 24*time.Hour)
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var count atomic.Int64
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: types}, func(_ context.Context, ev *eventbus.Envelope) {
		printEvent(ev)
		if n := count.Add(1); limit > 0 && n >= int64(limit) {
			stop()
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fmt.Printf("🎬 Tailing %s (types: %v, limit: %d)\n", stream, types, limit)
	<-ctx.Done()
	fmt.Printf("\n📊 Total events: %d\n", count.Load())
	return nil
}

// showTypes выводит известные типы событий
func showTypes() {
	fmt.Println("📋 Terrain event types")
	for _, t := range []string{eventbus.TypeTerrainCommitted, eventbus.TypeChunkRebuilt, eventbus.TypeRegionEvicted} {
		fmt.Printf("  %s\n", t)
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n", ev.Timestamp.Format(timeFormat), ev.Source, ev.EventType, ev.ID)

	switch ev.EventType {
	case eventbus.TypeTerrainCommitted:
		if e, err := eventbus.Decode[eventbus.TerrainCommitted](ev); err == nil {
			fmt.Printf("  Region: (%d,%d) v%d applied=%d dropped=%d dirty=%d\n",
				e.RegionX, e.RegionY, e.Version, e.Applied, e.Dropped, len(e.DirtyChunk))
		}
	case eventbus.TypeChunkRebuilt:
		if e, err := eventbus.Decode[eventbus.ChunkRebuilt](ev); err == nil {
			fmt.Printf("  Region: (%d,%d) chunk [%d,%d,%d] v%d %.2fms %s\n",
				e.RegionX, e.RegionY, e.Chunk.X, e.Chunk.Y, e.Chunk.Z, e.Version, e.DurationMS, e.Error)
		}
	case eventbus.TypeRegionEvicted:
		if e, err := eventbus.Decode[eventbus.RegionEvicted](ev); err == nil {
			fmt.Printf("  Region: (%d,%d)\n", e.RegionX, e.RegionY)
		}
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
