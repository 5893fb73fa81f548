package detector_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mschirtzinger/notesync/internal/detector"
)

// emptyCache reports a cache that has never seen any note.
type emptyCache struct{}

func (emptyCache) Snapshot(context.Context) (map[string]detector.CacheEntry, error) {
	return map[string]detector.CacheEntry{}, nil
}

func (emptyCache) Lookup(context.Context, string) (detector.CacheEntry, bool, error) {
	return detector.CacheEntry{}, false, nil
}

// ExampleDetector_Scan demonstrates a one-shot scan of a note folder.
func ExampleDetector_Scan() {
	root, err := os.MkdirTemp("", "detector-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(root)

	os.WriteFile(filepath.Join(root, "groceries.md"), []byte("milk"), 0644)
	os.WriteFile(filepath.Join(root, "image.png"), []byte{0x89}, 0644)

	d, err := detector.New(detector.DefaultConfig(root), emptyCache{})
	if err != nil {
		log.Fatal(err)
	}
	if _, err := d.Scan(context.Background()); err != nil {
		log.Fatal(err)
	}

	for _, ev := range d.Queue().Drain() {
		fmt.Printf("%s %s\n", ev.Kind, ev.Path)
	}

	// Output:
	// created groceries.md
}
