// internal/perf/compression.go
package perf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/FairForge/requestopt/internal/events"
	"github.com/FairForge/requestopt/internal/transport"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Compression algorithms
const (
	AlgorithmNone   = "none"
	AlgorithmGzip   = "gzip"
	AlgorithmZstd   = "zstd"
	AlgorithmSnappy = "snappy"
)

// DefaultCompressionThreshold is the smallest payload worth compressing
const DefaultCompressionThreshold = 1024

// CompressionConfig configures response compression
type CompressionConfig struct {
	Threshold int
	Algorithm string
	Level     int
}

// DefaultCompressionConfig returns default configuration
func DefaultCompressionConfig() *CompressionConfig {
	return &CompressionConfig{
		Threshold: DefaultCompressionThreshold,
		Algorithm: AlgorithmGzip,
		Level:     gzip.DefaultCompression,
	}
}

// Validate checks the configuration
func (c *CompressionConfig) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("compression threshold must be non-negative, got %d", c.Threshold)
	}
	switch c.Algorithm {
	case AlgorithmGzip, AlgorithmZstd, AlgorithmSnappy:
	default:
		return fmt.Errorf("unsupported compression algorithm: %q", c.Algorithm)
	}
	return nil
}

// CompressionResult describes one compression attempt
type CompressionResult struct {
	Data             []byte        `json:"-"`
	OriginalSize     int           `json:"original_size"`
	CompressedSize   int           `json:"compressed_size"`
	CompressionRatio float64       `json:"compression_ratio"`
	Algorithm        string        `json:"algorithm"`
	CompressionTime  time.Duration `json:"compression_time"`
}

// Saved returns the number of bytes compression removed
func (r *CompressionResult) Saved() int {
	if r.CompressedSize >= r.OriginalSize {
		return 0
	}
	return r.OriginalSize - r.CompressedSize
}

// CompressionEvent is the payload of events.CompressionCompleted
type CompressionEvent struct {
	ResponseID       string        `json:"response_id"`
	OriginalSize     int           `json:"original_size"`
	CompressedSize   int           `json:"compressed_size"`
	CompressionRatio float64       `json:"compression_ratio"`
	Algorithm        string        `json:"algorithm"`
	CompressionTime  time.Duration `json:"compression_time"`
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	Attempts        int64
	Skipped         int64
	Failures        int64
	BytesIn         int64
	BytesOut        int64
	AverageRatio    float64
	TotalCompressNs int64
}

// Compressor compresses response payloads above a size threshold. A failed
// compression never fails the request; the original bytes are passed through.
type Compressor struct {
	config *CompressionConfig
	bus    *events.Bus
	logger *zap.Logger

	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdErr     error

	mu    sync.Mutex
	stats CompressionStats
}

// NewCompressor creates a compressor
func NewCompressor(config *CompressionConfig, bus *events.Bus, logger *zap.Logger) (*Compressor, error) {
	if config == nil {
		config = DefaultCompressionConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := *config
	// gzip treats level 0 as NoCompression; an unset level means default.
	if cfg.Algorithm == AlgorithmGzip && cfg.Level == 0 {
		cfg.Level = gzip.DefaultCompression
	}
	return &Compressor{
		config: &cfg,
		bus:    bus,
		logger: logger,
	}, nil
}

// Threshold returns the configured size threshold
func (c *Compressor) Threshold() int {
	return c.config.Threshold
}

// SetThreshold changes the size threshold
func (c *Compressor) SetThreshold(threshold int) {
	if threshold < 0 {
		return
	}
	c.mu.Lock()
	c.config.Threshold = threshold
	c.mu.Unlock()
}

// Compress serializes the response payload and compresses it when it is at
// least Threshold bytes.
func (c *Compressor) Compress(resp *transport.Response) *CompressionResult {
	raw, err := SerializePayload(resp.Data)
	if err != nil {
		c.logger.Debug("payload not serializable",
			zap.String("response_id", resp.ID),
			zap.Error(err))
		return &CompressionResult{Algorithm: AlgorithmNone, CompressionRatio: 1}
	}
	return c.CompressBytes(resp.ID, raw)
}

// CompressBytes compresses raw bytes under the same rules as Compress
func (c *Compressor) CompressBytes(id string, raw []byte) *CompressionResult {
	c.mu.Lock()
	threshold := c.config.Threshold
	c.mu.Unlock()

	passthrough := &CompressionResult{
		Data:             raw,
		OriginalSize:     len(raw),
		CompressedSize:   len(raw),
		CompressionRatio: 1,
		Algorithm:        AlgorithmNone,
	}

	if len(raw) < threshold {
		c.mu.Lock()
		c.stats.Skipped++
		c.mu.Unlock()
		return passthrough
	}

	start := time.Now()
	out, err := c.encode(raw)
	elapsed := time.Since(start)

	c.mu.Lock()
	c.stats.Attempts++
	c.stats.TotalCompressNs += elapsed.Nanoseconds()
	c.mu.Unlock()

	if err != nil || len(out) == 0 {
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		c.logger.Warn("compression failed, passing payload through",
			zap.String("response_id", id),
			zap.String("algorithm", c.config.Algorithm),
			zap.Error(err))
		passthrough.CompressionTime = elapsed
		return passthrough
	}

	result := &CompressionResult{
		Data:             out,
		OriginalSize:     len(raw),
		CompressedSize:   len(out),
		CompressionRatio: float64(len(raw)) / float64(len(out)),
		Algorithm:        c.config.Algorithm,
		CompressionTime:  elapsed,
	}

	c.mu.Lock()
	c.stats.BytesIn += int64(result.OriginalSize)
	c.stats.BytesOut += int64(result.CompressedSize)
	if c.stats.BytesOut > 0 {
		c.stats.AverageRatio = float64(c.stats.BytesIn) / float64(c.stats.BytesOut)
	}
	c.mu.Unlock()

	c.bus.Publish(events.CompressionCompleted, CompressionEvent{
		ResponseID:       id,
		OriginalSize:     result.OriginalSize,
		CompressedSize:   result.CompressedSize,
		CompressionRatio: result.CompressionRatio,
		Algorithm:        result.Algorithm,
		CompressionTime:  result.CompressionTime,
	})

	return result
}

func (c *Compressor) encode(raw []byte) ([]byte, error) {
	switch c.config.Algorithm {
	case AlgorithmGzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, c.config.Level)
		if err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		if _, err := w.Write(raw); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("gzip write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close: %w", err)
		}
		return buf.Bytes(), nil
	case AlgorithmZstd:
		enc, err := c.getZstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	case AlgorithmSnappy:
		return snappy.Encode(nil, raw), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", c.config.Algorithm)
	}
}

func (c *Compressor) getZstdEncoder() (*zstd.Encoder, error) {
	c.zstdOnce.Do(func() {
		level := zstd.SpeedDefault
		if c.config.Level > 0 {
			level = zstd.EncoderLevelFromZstd(c.config.Level)
		}
		c.zstdEncoder, c.zstdErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(level),
			zstd.WithEncoderConcurrency(1),
		)
	})
	return c.zstdEncoder, c.zstdErr
}

// Decompress reverses Compress for the given algorithm
func Decompress(data []byte, algorithm string) ([]byte, error) {
	switch algorithm {
	case AlgorithmNone, "":
		return data, nil
	case AlgorithmGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	case AlgorithmZstd:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case AlgorithmSnappy:
		return snappy.Decode(nil, data)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", algorithm)
	}
}

// SerializePayload returns the bytes a payload occupies on the wire: byte
// slices as-is, strings as UTF-8, anything else as JSON.
func SerializePayload(data interface{}) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// Stats returns compression statistics
func (c *Compressor) Stats() *CompressionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	return &stats
}

// Close releases encoder resources
func (c *Compressor) Close() error {
	if c.zstdEncoder != nil {
		return c.zstdEncoder.Close()
	}
	return nil
}
