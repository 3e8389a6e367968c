package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMessageType(t *testing.T) {
	assert := assert.New(t)

	for input, want := range map[string]MessageType{"": MessageTypeText, "text": MessageTypeText, "TEXT": MessageTypeText} {
		got, err := ParseMessageType(input)
		assert.NoError(err)
		assert.Equal(want, got)
	}

	_, err := ParseMessageType("system")
	assert.ErrorIs(err, ErrorReservedType)
	_, err = ParseMessageType("IMAGE")
	assert.ErrorIs(err, ErrorUnknownType)
}
