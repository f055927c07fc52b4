package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguagesCommand(t *testing.T) {
	var out bytes.Buffer
	languagesCmd.SetOut(&out)
	languagesCmd.Run(languagesCmd, nil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 9)
	assert.Equal(t, "en-IN  English", lines[0])
	assert.Contains(t, lines[1], "Hindi (हिन्दी)")
}

func TestLoadImage(t *testing.T) {
	img, err := loadImage("")
	require.NoError(t, err)
	assert.Nil(t, img)

	dir := t.TempDir()
	png := filepath.Join(dir, "leaf.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n0000"), 0o600))
	img, err = loadImage(png)
	require.NoError(t, err)
	assert.Equal(t, "leaf.png", img.Name)
	assert.Equal(t, "image/png", img.MIMEType)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("just text"), 0o600))
	_, err = loadImage(txt)
	assert.Error(t, err)

	_, err = loadImage(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}
