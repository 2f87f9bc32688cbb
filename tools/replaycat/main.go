// Command replaycat inspects replay bundles written by the engine: it lists
// the bundles under a directory or dumps one bundle's event log.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"paddlearena/engine/internal/replay"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay bundles")
	dump := flag.String("dump", "", "bundle directory whose event log should be printed")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	if *dump != "" {
		if err := dumpEvents(*dump, *jsonFlag); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := listBundles(*root, *jsonFlag); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listBundles(root string, asJSON bool) error {
	manifests, err := replay.List(root)
	if err != nil {
		return err
	}
	if asJSON {
		payload, err := json.MarshalIndent(manifests, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
		return nil
	}
	for _, manifest := range manifests {
		fmt.Printf("%s  created %s  (schema %d)\n", manifest.MatchID, manifest.CreatedAt, manifest.Version)
	}
	return nil
}

func dumpEvents(dir string, asJSON bool) error {
	events, err := replay.LoadEvents(dir)
	if err != nil {
		return err
	}
	if asJSON {
		payload, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
		return nil
	}
	for _, event := range events {
		fmt.Printf("frame %6d  %-10s %s\n", event.Frame, event.Kind, string(event.Payload))
	}
	return nil
}
