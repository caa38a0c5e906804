package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_SortsByTime(t *testing.T) {
	a := New()
	time.Sleep(2 * time.Millisecond)
	b := New()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}
