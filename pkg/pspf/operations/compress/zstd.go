package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/provide-io/pspf/pkg/pspf/operations"
)

func init() {
	operations.Register(NewZstdOperation())
}

// ZstdOperation implements Zstandard compression
type ZstdOperation struct {
	operations.BaseOperation
}

// NewZstdOperation creates a new ZSTD operation
func NewZstdOperation() *ZstdOperation {
	return &ZstdOperation{
		BaseOperation: operations.BaseOperation{
			OpID:   operations.OP_ZSTD,
			OpName: "ZSTD",
		},
	}
}

// Apply compresses data using Zstandard
func (o *ZstdOperation) Apply(input []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(input, nil), nil
}

// ApplyStream compresses a stream using Zstandard
func (o *ZstdOperation) ApplyStream(input io.Reader, output io.Writer) error {
	enc, err := zstd.NewWriter(output)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()

	if _, err := io.Copy(enc, input); err != nil {
		return fmt.Errorf("compressing stream: %w", err)
	}

	return enc.Close()
}

// Reverse decompresses Zstandard data
func (o *ZstdOperation) Reverse(input []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	data, err := dec.DecodeAll(input, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing zstd data: %w", err)
	}

	return data, nil
}

// ReverseStream decompresses a Zstandard stream
func (o *ZstdOperation) ReverseStream(input io.Reader, output io.Writer) error {
	dec, err := zstd.NewReader(input)
	if err != nil {
		return fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	if _, err := io.Copy(output, dec); err != nil {
		return fmt.Errorf("decompressing stream: %w", err)
	}

	return nil
}

// EstimateSize estimates compressed size
func (o *ZstdOperation) EstimateSize(inputSize int64) int64 {
	// ZSTD at default level lands close to GZIP speed with better ratio
	return (inputSize*65)/100 + 40 // +40 for zstd frame overhead
}
