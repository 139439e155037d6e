package store

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/encoder"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// CompressEmbedding serialises a multivector as gzip(float32 LE) +
// base64 and returns the blob with its "TxD" shape tag. The encoding is
// byte-for-byte deterministic: the gzip header carries no timestamp.
func CompressEmbedding(mv encoder.MultiVector) (blob string, shape string, err error) {
	rows := mv.Rows()
	dim := mv.Dim()
	shape = fmt.Sprintf("%dx%d", rows, dim)

	raw := make([]byte, 0, rows*dim*4)
	var scratch [4]byte
	for _, row := range mv {
		if len(row) != dim {
			return "", "", amerrors.New(amerrors.ErrCodeInternal,
				fmt.Sprintf("ragged multivector: row has %d dims, expected %d", len(row), dim), nil)
		}
		for _, v := range row {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
			raw = append(raw, scratch[:]...)
		}
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", "", amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	if err := zw.Close(); err != nil {
		return "", "", amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), shape, nil
}

// DecompressEmbedding reverses CompressEmbedding. The gzip checksum
// catches corrupted blobs; mismatched shapes are corruption too.
func DecompressEmbedding(blob, shape string) (encoder.MultiVector, error) {
	rows, dim, err := parseShape(shape)
	if err != nil {
		return nil, err
	}

	compressed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeCorruptedData, "embedding blob is not valid base64", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeCorruptedData, "embedding blob is not valid gzip", err)
	}
	raw, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeCorruptedData, "embedding blob failed checksum", err)
	}

	if len(raw) != rows*dim*4 {
		return nil, amerrors.New(amerrors.ErrCodeCorruptedData,
			fmt.Sprintf("embedding blob holds %d bytes, shape %s needs %d", len(raw), shape, rows*dim*4), nil)
	}

	mv := make(encoder.MultiVector, rows)
	for r := 0; r < rows; r++ {
		row := make([]float32, dim)
		for d := 0; d < dim; d++ {
			off := (r*dim + d) * 4
			row[d] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
		}
		mv[r] = row
	}
	return mv, nil
}

// parseShape parses a "TxD" shape tag.
func parseShape(shape string) (rows, dim int, err error) {
	parts := strings.SplitN(shape, "x", 2)
	if len(parts) != 2 {
		return 0, 0, amerrors.New(amerrors.ErrCodeCorruptedData,
			fmt.Sprintf("malformed embedding shape %q", shape), nil)
	}
	rows, err = strconv.Atoi(parts[0])
	if err == nil {
		dim, err = strconv.Atoi(parts[1])
	}
	if err != nil || rows < 0 || dim < 0 {
		return 0, 0, amerrors.New(amerrors.ErrCodeCorruptedData,
			fmt.Sprintf("malformed embedding shape %q", shape), nil)
	}
	return rows, dim, nil
}
