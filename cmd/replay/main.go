// Command replay streams a recorded tick file back onto a local event bus,
// printing progress. Useful for eyeballing a capture before feeding it to a
// paper-trading session.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"options_engine/internal/core"
	"options_engine/internal/events"
	"options_engine/internal/logging"
	"options_engine/internal/tickdata"
	"options_engine/pkg/concurrency"
)

func main() {
	file := flag.String("file", "", "tick file to replay (.bin or .bin.gz)")
	speed := flag.Float64("speed", 1.0, "playback speed multiplier")
	tokens := flag.String("tokens", "", "comma-separated instrument tokens to include (empty for all)")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -file <ticks.bin> [-speed N] [-tokens a,b,c]")
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger("INFO")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "replay",
		MaxWorkers:  2,
		MaxCapacity: 256,
	}, logger)
	defer pool.Stop()
	bus := events.NewBus(pool, logger)

	done := make(chan core.ReplayComplete, 1)
	bus.SubscribeReplayComplete(func(e core.ReplayComplete) { done <- e })

	player := tickdata.NewPlayer("replay-cli", *file, core.ModePaper, tickdata.PlayerOptions{
		Speed:  *speed,
		Tokens: parseTokens(*tokens),
	}, bus, logger)

	if err := player.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}

	final := <-done
	fmt.Printf("replayed %d ticks from %s\n", final.Processed, *file)
}

func parseTokens(s string) []uint64 {
	if s == "" {
		return nil
	}
	var out []uint64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad token %q: %v\n", part, err)
			os.Exit(1)
		}
		out = append(out, v)
	}
	return out
}
