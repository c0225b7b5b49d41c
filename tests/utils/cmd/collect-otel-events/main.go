package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// collect-otel-events reads board-api logs (stdin or -in) and writes a JSON
// summary of its request observability events.
func main() {
	var (
		inPath      string
		outPath     string
		eventName   string
		eventDomain string
	)
	flag.StringVar(&inPath, "in", "", "log file to read; stdin when empty")
	flag.StringVar(&outPath, "out", "", "path to write aggregated metrics JSON")
	flag.StringVar(&eventName, "event-name", requestEventName, "observability event name to collect")
	flag.StringVar(&eventDomain, "event-domain", requestEventDomain, "observability event domain to match")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "-out is required")
		os.Exit(2)
	}

	var src io.Reader = os.Stdin
	if inPath != "" {
		f, err := os.Open(inPath)
		if err != nil {
			log.Fatalf("open logs: %v", err)
		}
		defer f.Close()
		src = f
	}

	c := newCollector(eventName, eventDomain)
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		c.ingest(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read logs: %v", err)
	}

	summary := c.summary()
	if err := writeSummary(outPath, summary); err != nil {
		log.Fatalf("write summary: %v", err)
	}
	fmt.Println(summary.ShortString())
}

func writeSummary(path string, summary summaryOutput) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := sonic.ConfigStd.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
