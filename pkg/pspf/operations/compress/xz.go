package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/provide-io/pspf/pkg/pspf/operations"
	"github.com/ulikunitz/xz"
)

func init() {
	operations.Register(NewXzOperation())
}

// XzOperation implements XZ/LZMA2 compression
type XzOperation struct {
	operations.BaseOperation
}

// NewXzOperation creates a new XZ operation
func NewXzOperation() *XzOperation {
	return &XzOperation{
		BaseOperation: operations.BaseOperation{
			OpID:   operations.OP_XZ,
			OpName: "XZ",
		},
	}
}

// Apply compresses data using XZ
func (o *XzOperation) Apply(input []byte) ([]byte, error) {
	var buf bytes.Buffer

	xw, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating xz writer: %w", err)
	}

	if _, err := xw.Write(input); err != nil {
		xw.Close()
		return nil, fmt.Errorf("writing xz data: %w", err)
	}

	if err := xw.Close(); err != nil {
		return nil, fmt.Errorf("closing xz writer: %w", err)
	}

	return buf.Bytes(), nil
}

// ApplyStream compresses a stream using XZ
func (o *XzOperation) ApplyStream(input io.Reader, output io.Writer) error {
	xw, err := xz.NewWriter(output)
	if err != nil {
		return fmt.Errorf("creating xz writer: %w", err)
	}
	defer xw.Close()

	if _, err := io.Copy(xw, input); err != nil {
		return fmt.Errorf("compressing stream: %w", err)
	}

	return xw.Close()
}

// Reverse decompresses XZ data
func (o *XzOperation) Reverse(input []byte) ([]byte, error) {
	buf := bytes.NewReader(input)

	xr, err := xz.NewReader(buf)
	if err != nil {
		return nil, fmt.Errorf("creating xz reader: %w", err)
	}

	data, err := io.ReadAll(xr)
	if err != nil {
		return nil, fmt.Errorf("reading xz data: %w", err)
	}

	return data, nil
}

// ReverseStream decompresses an XZ stream
func (o *XzOperation) ReverseStream(input io.Reader, output io.Writer) error {
	xr, err := xz.NewReader(input)
	if err != nil {
		return fmt.Errorf("creating xz reader: %w", err)
	}

	if _, err := io.Copy(output, xr); err != nil {
		return fmt.Errorf("decompressing stream: %w", err)
	}

	return nil
}

// EstimateSize estimates compressed size
func (o *XzOperation) EstimateSize(inputSize int64) int64 {
	// XZ typically beats both GZIP and BZIP2 at the cost of CPU time
	return (inputSize*6)/10 + 60 // +60 for xz container overhead
}
