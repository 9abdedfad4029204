package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsAnyFold(t *testing.T) {
	assert.True(t, ContainsAnyFold("dial tcp: Connection Refused", "connection refused"))
	assert.False(t, ContainsAnyFold("bad request", "timeout", ""))
	assert.False(t, ContainsAnyFold("anything"))
}
