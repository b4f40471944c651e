package api

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_progressReader(t *testing.T) {
	var reported []int
	pr := &progressReader{
		r:        bytes.NewReader(make([]byte, 1000)),
		total:    1000,
		progress: func(p int) { reported = append(reported, p) },
	}

	buf := make([]byte, 250)
	for {
		if _, err := pr.Read(buf); err != nil {
			break
		}
	}

	assert.Equal(t, []int{25, 50, 75, 100}, reported)
}
