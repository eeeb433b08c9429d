// Command checkpointsync is an optional demo publisher: it watches a
// replication Checkpoint's remote min-sequence and republishes its JSON
// form on a NATS subject whenever it changes, so other services can track
// replication progress without polling the peer directly.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/adred-codev/blip/internal/metrics"
	"github.com/adred-codev/blip/internal/seqset"
	"github.com/nats-io/nats.go"
)

func main() {
	natsURL := flag.String("nats-url", nats.DefaultURL, "NATS server URL")
	subject := flag.String("subject", "blip.checkpoint", "subject to publish checkpoint updates on")
	interval := flag.Duration("interval", 2*time.Second, "poll interval for checkpoint changes")
	flag.Parse()

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatalf("checkpointsync: connecting to NATS: %v", err)
	}
	defer nc.Close()

	cp := seqset.NewCheckpoint()
	var lastRemote string
	published := false

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		remote := string(cp.RemoteMinSequence())
		if published && remote == lastRemote {
			continue
		}
		data, err := cp.MarshalJSON()
		if err != nil {
			log.Printf("checkpointsync: marshal checkpoint: %v", err)
			continue
		}
		lastRemote = remote
		published = true
		metrics.CheckpointSequence.WithLabelValues(*subject).Set(float64(cp.LocalMinSequence()))
		if err := nc.Publish(*subject, data); err != nil {
			log.Printf("checkpointsync: publish: %v", err)
			continue
		}
		log.Printf("checkpointsync: published checkpoint update on %q", *subject)
	}
}
