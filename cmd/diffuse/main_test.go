package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores defaults so commands can be executed again in the same process.
func resetFlags(cmd *cobra.Command) {
	for _, c := range cmd.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
		resetFlags(c)
	}
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 9), G: uint8(y * 9), B: 200, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "in.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "diffuse version ")
}

func TestConfigCommand_Layering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diffuse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\noneshot_quality: 70\nstream_max_side: 1024\n"), 0o644))
	t.Setenv("DIFFUSE_STREAM_MAX_SIDE", "300")

	out, err := execute(t, "config", "--config", path, "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "log_level: warn")
	assert.Contains(t, out, "oneshot_quality: 70")
	assert.Contains(t, out, "stream_max_side: 300")
	assert.Contains(t, out, "stream_start_timeout: 30s")
}

func TestConfigCommand_RejectsInvalid(t *testing.T) {
	t.Setenv("DIFFUSE_LOG_FORMAT", "xml")
	_, err := execute(t, "config")
	assert.ErrorContains(t, err, "log_format")
}

func TestScheduleCommand_JSON(t *testing.T) {
	out, err := execute(t, "schedule", "--steps", "4", "--kind", "cosine", "--json")
	require.NoError(t, err)

	var got struct {
		Kind     string    `json:"kind"`
		Steps    int       `json:"steps"`
		Beta     []float64 `json:"beta"`
		AlphaBar []float64 `json:"alpha_bar"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "cosine", got.Kind)
	assert.Equal(t, 4, got.Steps)
	assert.Len(t, got.Beta, 4)
}

func TestScheduleCommand_Rejects(t *testing.T) {
	_, err := execute(t, "schedule", "--steps", "0")
	assert.Error(t, err)
}

func TestSampleCommand_Single(t *testing.T) {
	in := writePNG(t, 20, 20)
	out := filepath.Join(t.TempDir(), "out.png")

	stdout, err := execute(t, "sample", "--in", in, "--out", out, "--steps", "10", "--t", "5", "--seed", "42", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, stdout, "t=5")
	assert.Contains(t, stdout, "seed=42")
	assert.Contains(t, stdout, "ssim=")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())
}

func TestSampleCommand_All(t *testing.T) {
	in := writePNG(t, 8, 8)
	dir := filepath.Join(t.TempDir(), "frames")

	stdout, err := execute(t, "sample", "--in", in, "--steps", "10", "--all", "--every", "3", "--out-dir", dir, "--format", "png", "--seed", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote 4 frames")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"frame_0.png", "frame_3.png", "frame_6.png", "frame_9.png"}, names)
}

func TestSampleCommand_MissingInput(t *testing.T) {
	_, err := execute(t, "sample", "--out", "x.png")
	assert.Error(t, err)
}
