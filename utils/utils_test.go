package utils

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBytesMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", BytesMD5(nil))
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", BytesMD5([]byte("abc")))
}

func TestNewRequestID(t *testing.T) {
	a, b := NewRequestID(), NewRequestID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestLoggerUsableBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() { Logger.Info("not initialized yet") })
}
