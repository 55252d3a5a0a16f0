//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Fetches each feed URL in NEWSFEED_URLS (comma separated) and reports
// whether it parses, so broken feeds can be spotted before they are
// wired into the poller.
func main() {
	raw := os.Getenv("NEWSFEED_URLS")
	if raw == "" {
		log.Fatal("NEWSFEED_URLS not set")
	}

	parser := gofeed.NewParser()
	failures := 0

	for _, url := range strings.Split(raw, ",") {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		feed, err := parser.ParseURLWithContext(url, ctx)
		cancel()

		if err != nil {
			failures++
			fmt.Printf("✗ %s\n   error: %v\n", url, err)
			continue
		}

		newest := "no items"
		if len(feed.Items) > 0 && feed.Items[0].PublishedParsed != nil {
			newest = feed.Items[0].PublishedParsed.Format(time.RFC3339)
		}
		fmt.Printf("✓ %s\n   title: %s\n   items: %d, newest: %s\n", url, feed.Title, len(feed.Items), newest)
	}

	if failures > 0 {
		log.Fatalf("%d feed(s) failed", failures)
	}
	fmt.Println("all feeds OK")
}
