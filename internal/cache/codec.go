package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

func encodeEmbeddings(embeddings [][]float32) ([]byte, error) {
	if embeddings == nil {
		embeddings = [][]float32{}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(embeddings); err != nil {
		return nil, fmt.Errorf("encode embeddings: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEmbeddings(data []byte) ([][]float32, error) {
	var embeddings [][]float32
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&embeddings); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	return embeddings, nil
}
