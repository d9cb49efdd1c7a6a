package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequestParsesFields(t *testing.T) {
	r := NewReader(strings.NewReader("abc\t/tmp/repo\t1\n"))
	req, err := r.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, "abc", req.ID)
	assert.Equal(t, "/tmp/repo", req.WorkingDir)
	assert.True(t, req.DiffFlag)
}

func TestReadRequestEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, err := r.ReadRequest()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadRequestRejectsMalformedLine(t *testing.T) {
	r := NewReader(strings.NewReader("only-one-field\n"))
	_, err := r.ReadRequest()
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestReadRequestRejectsBadDiffFlag(t *testing.T) {
	r := NewReader(strings.NewReader("id\t/tmp\tmaybe\n"))
	_, err := r.ReadRequest()
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestReadRequestContinuesAfterBadLine(t *testing.T) {
	r := NewReader(strings.NewReader("bad-line\nid\t/tmp\t0\n"))
	_, err := r.ReadRequest()
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req, err := r.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, "id", req.ID)
}

func TestWriteResponseFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	resp := Response{
		ID:              "A",
		AbsoluteWorkdir: "/tmp/r",
		LocalBranch:     "main",
		IndexSize:       3,
		NumStaged:       1,
	}
	require.NoError(t, w.WriteResponse(resp))

	got := buf.String()
	want := "A\t/tmp/r\t\tmain\t\t\t\t\t3\t1\t0\t0\t0\t0\t0\t0\t\n"
	assert.Equal(t, want, got)
}

func TestWriteResponseEmptyIsIDOnly(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteResponse(EmptyResponse("xyz")))
	assert.Equal(t, "xyz\n", buf.String())
}

func TestEmptyRepoUnbornHeadScenario(t *testing.T) {
	// Concrete scenario 1 from spec §8.
	var buf bytes.Buffer
	w := NewWriter(&buf)

	resp := Response{
		ID:              "A",
		AbsoluteWorkdir: "/tmp/r",
		LocalBranch:     "main",
	}
	require.NoError(t, w.WriteResponse(resp))
	assert.Equal(t, "A\t/tmp/r\t\tmain\t\t\t\t\t0\t0\t0\t0\t0\t0\t0\t0\t\n", buf.String())
}
