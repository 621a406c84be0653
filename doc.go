// Package mailstore is the ingestion and storage core of a mailbox
// store. It accepts a raw transfer-protocol envelope, parses it into a
// structured message, classifies it through a filter chain, persists
// the payload through a compressing/encrypting blob pipeline, and
// reports one reply code per recipient so the transport can answer
// correctly.
//
// Subpackages:
//
//   - mime: MIME decoding into a typed part tree with body extraction
//   - label: reserved labels and per-label counters
//   - blob: blob pipeline, codecs, and backing stores (memory, S3, GCS)
//   - store: message metadata and counter stores (memory, Postgres,
//     MongoDB, Redis)
//   - resolver: recipient resolution
//   - retry: bounded backoff for transient storage failures
//
// Basic usage:
//
//	pipeline, _ := blob.NewPipeline(blob.WithProfile("main", memory.New()))
//	agent, err := mailstore.New(
//	    mailstore.WithPipeline(pipeline),
//	    mailstore.WithMessageStore(st),
//	    mailstore.WithResolver(res),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := agent.Connect(ctx); err != nil {
//	    return err
//	}
//	replies, err := agent.Deliver(ctx, env)
package mailstore
