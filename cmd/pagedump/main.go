// Command pagedump prints the header and slot/entry table of a single page
// from a pulsedb database file. It is a debugging aid, not a query tool.
package main

import (
	"flag"
	"fmt"
	"log"

	"go.uber.org/zap"

	"pulsedb/logging"
	"pulsedb/storage"
)

func main() {
	path := flag.String("db", "", "path to the database file")
	pageID := flag.Uint("page", 0, "page id to dump")
	flag.Parse()

	if *path == "" {
		log.Fatal("pagedump: -db is required")
	}

	base, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("pagedump: build logger: %v", err)
	}
	defer base.Sync()

	dm, err := storage.OpenDiskManager(*path, false, logging.New(base, "pagedump"))
	if err != nil {
		log.Fatalf("pagedump: open %s: %v", *path, err)
	}
	defer dm.Close()

	p, err := dm.FetchPage(uint32(*pageID))
	if err != nil {
		log.Fatalf("pagedump: fetch page %d: %v", *pageID, err)
	}

	switch p.Type() {
	case storage.PageTypeData:
		fmt.Println(storage.WrapDataPage(p).Debug())
	case storage.PageTypeIndex:
		fmt.Println(storage.WrapIndexPage(p).Debug())
	default:
		fmt.Println(p.String())
	}
}
