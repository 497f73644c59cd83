package audioio

import (
	"context"
	"io"
)

// Sink plays audio on a speaker.
type Sink interface {
	// Start begins playback. Writes before Start fail.
	Start(ctx context.Context) error

	// Stop halts playback. It is safe to call Stop multiple times.
	Stop() error

	// Write queues a chunk for playback. Chunks in a different format
	// than the sink's are converted. Write may block while the queue is full.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush waits until every queued chunk has been played.
	Flush(ctx context.Context) error

	// Clear discards queued audio immediately.
	Clear() error

	// Config returns the playback configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	io.Closer
}

// SinkStats contains playback counters.
type SinkStats struct {
	ChunksWritten   int64  `json:"chunks_written"`
	SamplesWritten  int64  `json:"samples_written"`
	Underruns       int64  `json:"underruns"`
	Running         bool   `json:"running"`
	Backend         string `json:"backend"`
	BufferedSamples int64  `json:"buffered_samples"`
}

// SinkWithStats extends Sink with statistics.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
