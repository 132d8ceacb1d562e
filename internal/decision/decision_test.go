package decision

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/brick-gateway/internal/control"
)

func TestDefaultLabelMapLookup(t *testing.T) {
	m := DefaultLabelMap()

	d, err := m.Lookup("left", "rock")
	require.NoError(t, err)
	assert.Equal(t, control.Packet{Primary: 0, Secondary: 0}, d.Packet())
	assert.Equal(t, "Left Hand + Rock", d.Describe())

	d, err = m.Lookup(" RIGHT ", "ok")
	require.NoError(t, err)
	assert.Equal(t, control.Packet{Primary: 1, Secondary: 3}, d.Packet())
	assert.Equal(t, "Right Hand + OK", d.Describe())

	d, err = m.Lookup("right", "scissors")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, d.Packet().Bytes())

	_, err = m.Lookup("up", "rock")
	assert.ErrorIs(t, err, ErrUnknownLabel)
	_, err = m.Lookup("left", "lizard")
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestLoadLabelMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.yaml")
	content := `
primary:
  - name: forward
    display: Forward
  - name: back
secondary:
  - name: slow
  - name: fast
    display: Fast
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := LoadLabelMap(path)
	require.NoError(t, err)

	d, err := m.Lookup("back", "fast")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), d.Primary)
	assert.Equal(t, uint8(1), d.Secondary)
	assert.Equal(t, "back + Fast", d.Describe())
}

func TestLoadLabelMapInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"empty.yaml": "primary: []\nsecondary:\n  - name: a\n",
		"dup.yaml":   "primary:\n  - name: a\n  - name: A\nsecondary:\n  - name: b\n",
		"bad.yaml":   "primary: [",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := LoadLabelMap(path)
		assert.Error(t, err, name)
	}

	_, err := LoadLabelMap(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestConsoleProvider(t *testing.T) {
	in := strings.NewReader("left\n\nup, rock\nright, paper\nleft,ok\n")
	var out bytes.Buffer
	p := NewConsoleProvider(nil, in, &out)

	d, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, control.Packet{Primary: 1, Secondary: 1}, d.Packet())
	assert.Equal(t, 2, strings.Count(out.String(), "Invalid, try again"))

	d, err = p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Left Hand + OK", d.Describe())

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestConsoleProviderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewConsoleProvider(nil, strings.NewReader("left, rock\n"), nil)
	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsoleProviderOversizedLine(t *testing.T) {
	t.Run("超长行提示后继续读取", func(t *testing.T) {
		in := strings.NewReader(strings.Repeat("x", 70*1024) + "\nleft, rock\n")
		var out bytes.Buffer
		p := NewConsoleProvider(nil, in, &out)

		d, err := p.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, control.Packet{Primary: 0, Secondary: 0}, d.Packet())
		assert.Equal(t, 1, strings.Count(out.String(), "Invalid, try again"))
	})

	t.Run("超长行位于输入末尾", func(t *testing.T) {
		p := NewConsoleProvider(nil, strings.NewReader(strings.Repeat("x", 70*1024)), io.Discard)
		_, err := p.Next(context.Background())
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("末行无换行符", func(t *testing.T) {
		p := NewConsoleProvider(nil, strings.NewReader("right, ok"), io.Discard)
		d, err := p.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Right Hand + OK", d.Describe())
	})
}
