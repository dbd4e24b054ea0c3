package stream

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/narrately/novelgraph/internal/metrics"
)

// Appender is the durable half of emission; satisfied by chunklog.Log.
type Appender interface {
	Append(ctx context.Context, key string, chunk Chunk) (uint64, error)
}

// Producer pairs a durable append with a live publish. The append commits
// first and its error propagates to the caller; the publish is
// fire-and-forget so a slow observer can never stall the pipeline.
//
// Emit holds a per-key lock across the append and the publish: concurrent
// emitters on the same key (the pipeline and its heartbeat) would otherwise
// let the bus deliver a higher sequence number before a lower one, and the
// stream endpoint's dedupe watermark would discard the late chunk.
type Producer struct {
	log Appender
	bus *Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProducer wires a Producer over the given log and bus.
func NewProducer(log Appender, bus *Bus) *Producer {
	return &Producer{
		log:   log,
		bus:   bus,
		locks: make(map[string]*sync.Mutex),
	}
}

// Emit durably records chunk for key, stamps the assigned sequence number,
// then fans it out to live subscribers. If the append fails nothing is
// published and the error is returned so the caller can retry or abort.
// Chunks for one key are published in sequence order.
func (p *Producer) Emit(ctx context.Context, key string, chunk Chunk) error {
	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("invalid chunk: %w", err)
	}

	ctx, span := otel.Tracer("novelgraph/stream").Start(ctx, "chunk.emit")
	span.SetAttributes(
		attribute.String("stream.key", key),
		attribute.String("chunk.type", string(chunk.Type)),
	)
	defer span.End()

	lock := p.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	seq, err := p.log.Append(ctx, key, chunk)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("append chunk: %w", err)
	}
	chunk.Seq = seq
	span.SetAttributes(attribute.Int64("chunk.seq", int64(seq)))
	metrics.ObserveChunkAppended(string(chunk.Type))
	p.bus.Publish(key, chunk)
	return nil
}

func (p *Producer) keyLock(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}
	return lock
}
