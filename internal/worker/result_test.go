package worker

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadResult(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	t.Run("valid with mixed issues", func(t *testing.T) {
		p := write("ok.json", `{"status":"rejected","summary":"needs work","issues":["missing test",{"severity":"high","file":"a.go","line":3,"message":"nil deref"}]}`)
		r, err := ReadResult(p)
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, r.Status)
		require.Len(t, r.Issues, 2)
		assert.Equal(t, "missing test", r.Issues[0].Message)
		assert.Equal(t, "[high] a.go:3: nil deref", r.Issues[1].String())
		assert.Equal(t, "needs work\n- missing test\n- [high] a.go:3: nil deref", r.Feedback())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadResult(filepath.Join(dir, "absent.json"))
		assert.True(t, errors.Is(err, ErrNoResult))
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ReadResult(write("bad.json", `{"status":`))
		assert.True(t, errors.Is(err, ErrInvalidResult))
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := ReadResult(write("odd.json", `{"status":"maybe"}`))
		assert.True(t, errors.Is(err, ErrInvalidResult))
	})
}

func TestWriteResultRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.json")
	require.NoError(t, WriteResult(p, Result{Status: StatusApproved, Summary: "lgtm"}))
	r, err := ReadResult(p)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusApproved, Summary: "lgtm"}, r)
}

func TestIssueString(t *testing.T) {
	assert.Equal(t, "a.go: x", Issue{File: "a.go", Message: "x"}.String())
	assert.Equal(t, "[low] x", Issue{Severity: "low", Message: "x"}.String())
	assert.Equal(t, "x", Issue{Message: "x"}.String())
}
