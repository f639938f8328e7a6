package engine_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/lifesync/lifesync/internal/engine"
	"github.com/lifesync/lifesync/internal/export"
	"github.com/lifesync/lifesync/internal/record"
)

// This example writes a record twice on an offline engine and watches the
// outbound queue grow.
func ExampleEngine_SyncData() {
	e, err := engine.New(&engine.Config{
		Platform:    record.PlatformDesktop,
		UserID:      "alice",
		DeviceID:    "laptop",
		OfflineMode: true,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer e.Destroy()

	pending := make(chan int, 4)
	unsubscribe := e.Subscribe(engine.EventPendingChanges, func(ev engine.Event) {
		pending <- ev.Pending
	})
	defer unsubscribe()

	ctx := context.Background()
	item, err := e.SyncData(ctx, record.TypeJournal, "entry-1", map[string]any{"text": "Ran 5k"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(item.ID, "version", item.Version)
	fmt.Println("pending:", <-pending)

	item, _ = e.SyncData(ctx, record.TypeJournal, "entry-1", map[string]any{"text": "Ran 10k"})
	fmt.Println(item.ID, "version", item.Version)
	fmt.Println("pending:", <-pending)

	// Output:
	// entry-1 version 1
	// pending: 1
	// entry-1 version 2
	// pending: 2
}

// This example connects to a sync server and prints every event.
// Note: This is for documentation only and won't run as a test.
func ExampleEngine_Start() {
	cfg := engine.DefaultConfig()
	cfg.Platform = record.PlatformDesktop
	cfg.UserID = "alice"
	cfg.DeviceID = "laptop"
	cfg.APIBase = "http://localhost:8080"
	cfg.ChannelURL = "ws://localhost:8080/ws"

	e, err := engine.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer e.Destroy()

	e.SubscribeAll(func(ev engine.Event) {
		fmt.Println(ev.Kind)
	})

	if err := e.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	// Push whatever is queued and wait for the server's answer
	if err := e.ForceSync(context.Background()); err != nil {
		log.Printf("sync failed: %v", err)
	}

	fmt.Printf("%+v\n", e.Status())
}

// This example exports every cached record as a plain-text report.
// Note: This is for documentation only and won't run as a test.
func ExampleEngine_Export() {
	e, err := engine.New(&engine.Config{UserID: "alice", DeviceID: "laptop", OfflineMode: true})
	if err != nil {
		log.Fatal(err)
	}
	defer e.Destroy()

	if err := e.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	if err := e.Export(os.Stdout, export.FormatReport); err != nil {
		log.Fatal(err)
	}
}
