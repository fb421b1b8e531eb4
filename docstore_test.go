package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeDocumentData(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		data := decodeDocumentData([]byte(`{"description":"trash pile","userId":"42"}`))
		assert.Equal(t, "trash pile", data["description"])
		assert.Equal(t, "42", data["userId"])
	})

	t.Run("malformed payload yields empty map", func(t *testing.T) {
		data := decodeDocumentData([]byte(`{"description":`))
		assert.NotNil(t, data)
		assert.Empty(t, data)
	})

	t.Run("empty payload yields empty map", func(t *testing.T) {
		data := decodeDocumentData(nil)
		assert.NotNil(t, data)
		assert.Empty(t, data)
	})
}
