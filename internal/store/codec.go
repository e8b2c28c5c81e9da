package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Aman-CERP/searchview/internal/segment"
)

// encodeFields serializes the fields of a document for storage.
func encodeFields(doc *segment.Document) ([]byte, error) {
	data, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.Key, err)
	}
	return data, nil
}

func decodeFields(key segment.Key, data []byte) (*segment.Document, error) {
	doc := &segment.Document{Key: key}
	if err := json.Unmarshal(data, &doc.Fields); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", key, err)
	}
	return doc, nil
}

// encodeKey produces a 16-byte big-endian key so byte order matches
// segment.Key order.
func encodeKey(k segment.Key) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], k.Collection)
	binary.BigEndian.PutUint64(b[8:], k.Document)
	return b
}

func decodeKey(b []byte) (segment.Key, error) {
	if len(b) != 16 {
		return segment.Key{}, fmt.Errorf("invalid key length %d", len(b))
	}
	return segment.Key{
		Collection: binary.BigEndian.Uint64(b[:8]),
		Document:   binary.BigEndian.Uint64(b[8:]),
	}, nil
}
