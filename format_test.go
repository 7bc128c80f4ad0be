package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", formatSize(0))
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.0 KB", formatSize(1024))
	assert.Equal(t, "1.5 MB", formatSize(1536*1024))
	assert.Equal(t, "2.0 GB", formatSize(2*1024*1024*1024))
}

func TestPrintTable_Alignment(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"A", "LONG"}, [][]string{
		{"xx", "y"},
		{"x", "yy"},
	})

	assert.Equal(t, "A   LONG\nxx  y\nx   yy\n", buf.String())
}

func TestPrintPairs_Alignment(t *testing.T) {
	var buf bytes.Buffer

	printPairs(&buf, [][]string{
		{"Task", "abc"},
		{"Status", "ACTIVE"},
	})

	assert.Equal(t, "Task    abc\nStatus  ACTIVE\n", buf.String())
}
