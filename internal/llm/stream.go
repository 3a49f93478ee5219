package llm

import (
	"context"
)

// ApiStream represents a stream of API response chunks
// Based on Cline's ApiStream design from transform/stream.ts
type ApiStream <-chan ApiStreamChunk

// ApiStreamChunk represents different types of streaming responses
// Translated from Cline's TypeScript types
type ApiStreamChunk interface {
	Type() string
}

// ApiStreamTextChunk represents text content in the stream
type ApiStreamTextChunk struct {
	Text string `json:"text"`
}

func (c ApiStreamTextChunk) Type() string { return "text" }

// ApiStreamUsageChunk represents token usage and cost information
type ApiStreamUsageChunk struct {
	InputTokens        int      `json:"inputTokens"`
	OutputTokens       int      `json:"outputTokens"`
	CacheWriteTokens   *int     `json:"cacheWriteTokens,omitempty"`
	CacheReadTokens    *int     `json:"cacheReadTokens,omitempty"`
	ThoughtsTokenCount *int     `json:"thoughtsTokenCount,omitempty"` // OpenRouter
	TotalCost          *float64 `json:"totalCost,omitempty"`          // OpenRouter
}

func (c ApiStreamUsageChunk) Type() string { return "usage" }

// StreamCollector helps collect and aggregate stream chunks
type StreamCollector struct {
	TextChunks []string
	Usage      *ApiStreamUsageChunk
}

// NewStreamCollector creates a new stream collector
func NewStreamCollector() *StreamCollector {
	return &StreamCollector{
		TextChunks: make([]string, 0),
	}
}

// Collect processes a stream chunk and adds it to the collector
func (sc *StreamCollector) Collect(chunk ApiStreamChunk) {
	switch c := chunk.(type) {
	case ApiStreamTextChunk:
		sc.TextChunks = append(sc.TextChunks, c.Text)
	case ApiStreamUsageChunk:
		sc.Usage = &c
	}
}

// GetFullText returns the complete text from all text chunks
func (sc *StreamCollector) GetFullText() string {
	result := ""
	for _, chunk := range sc.TextChunks {
		result += chunk
	}
	return result
}

// StreamProcessor provides utilities for processing streams
type StreamProcessor struct {
	ctx context.Context
}

// NewStreamProcessor creates a new stream processor
func NewStreamProcessor(ctx context.Context) *StreamProcessor {
	return &StreamProcessor{ctx: ctx}
}

// ProcessStream processes an entire stream and returns the collected result
func (sp *StreamProcessor) ProcessStream(stream ApiStream) (*StreamCollector, error) {
	collector := NewStreamCollector()

	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				// Stream closed
				return collector, nil
			}
			collector.Collect(chunk)
		case <-sp.ctx.Done():
			return collector, sp.ctx.Err()
		}
	}
}
