package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yairfalse/dumptruck/pkg/domain"
)

// DatagramSize is the largest chunk written to or read from the socket.
// Sender and receiver must agree on it.
const DatagramSize = 8192

var (
	// ErrMalformedFrame means the received bytes are not one JSON object
	ErrMalformedFrame = errors.New("malformed transport frame")
	// ErrEmptyFrame means the peer hung up without sending anything
	ErrEmptyFrame = errors.New("empty transport frame")
)

// EncodeFrame serializes the record's raw fields as one compact JSON
// object. The journal cursor travels along, pickup adds the replay marker.
func EncodeFrame(record *domain.Record, pickup bool) ([]byte, error) {
	fields := record.Fields()
	if cursor := record.Cursor(); cursor != "" {
		fields[domain.KeyCursor] = cursor
	}
	if pickup {
		fields[domain.KeyPickup] = "true"
	} else {
		delete(fields, domain.KeyPickup)
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// ParseFrame rebuilds a record from a complete frame. The result has no
// journal position of its own.
func ParseFrame(data []byte) (*domain.Record, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	return domain.NewRecord("", fields), nil
}

// Split cuts data into consecutive chunks of at most size bytes
func Split(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DatagramSize
	}
	chunks := make([][]byte, 0, len(data)/size+1)
	for len(data) > 0 {
		n := size
		if len(data) < n {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
