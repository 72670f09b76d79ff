package cli

import (
	"bytes"
	"context"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/car-classifier/internal/config"
	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/logging"
	"github.com/Brownie44l1/car-classifier/internal/preprocess"
	"github.com/Brownie44l1/car-classifier/internal/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newApp().rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTrainThenPredict(t *testing.T) {
	dir := t.TempDir()
	data := testutil.WriteDataset(t, filepath.Join(dir, "data"), []string{"sedan", "coupe"}, 3)
	weights := filepath.Join(dir, "out", "model.born")
	classes := filepath.Join(dir, "out", "classes.txt")

	out, err := run(t, "train", "--dataset", data, "--model", weights, "--classes", classes, "--epochs", "1", "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Epoch 1/1 - Loss: ")
	assert.Contains(t, out, "Trained on 6 images across 2 classes")

	list, err := domain.ReadClassList(classes)
	require.NoError(t, err)
	assert.Equal(t, domain.ClassList{"coupe", "sedan"}, list)

	img := filepath.Join(dir, "car.png")
	require.NoError(t, os.WriteFile(img, testutil.PNG(t, testutil.SolidImage(30, 20, color.RGBA{R: 90, A: 255})), 0o644))

	out, err = run(t, "predict", img, "--model", weights, "--classes", classes)
	require.NoError(t, err)
	assert.Contains(t, out, "Prediction: ")
	assert.Contains(t, out, "Top 2:")
}

func TestPredictMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	classes := filepath.Join(dir, "classes.txt")
	require.NoError(t, domain.WriteClassList(classes, domain.ClassList{"a", "b"}))
	img := filepath.Join(dir, "car.png")
	require.NoError(t, os.WriteFile(img, testutil.PNG(t, testutil.SolidImage(4, 4, color.RGBA{A: 255})), 0o644))

	_, err := run(t, "predict", img, "--model", filepath.Join(dir, "missing.born"), "--classes", classes)
	assert.ErrorIs(t, err, domain.ErrArtifactUnavailable)

	_, err = run(t, "predict", img, "--model", filepath.Join(dir, "missing.born"), "--classes", filepath.Join(dir, "nope.txt"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestPredictUndecodableImage(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "car.jpg")
	require.NoError(t, os.WriteFile(img, []byte("not an image"), 0o644))

	_, err := run(t, "predict", img)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestTrainRejectsBadFlags(t *testing.T) {
	_, err := run(t, "train", "--dataset", t.TempDir(), "--epochs", "0")
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = run(t, "train", "--dataset", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoadPredictorDefersWeights(t *testing.T) {
	dir := t.TempDir()
	a := newApp()
	a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	a.cfg = config.Default()
	a.cfg.Model.Weights = filepath.Join(dir, "model.born")
	a.cfg.Model.Classes = filepath.Join(dir, "classes.txt")
	require.NoError(t, os.WriteFile(a.cfg.Model.Weights, []byte("not weights"), 0o644))
	require.NoError(t, domain.WriteClassList(a.cfg.Model.Classes, domain.ClassList{"a", "b"}))

	loads := 0
	p, err := a.loadPredictor(context.Background(), func(time.Duration) { loads++ })
	require.NoError(t, err)
	defer p.Close()
	assert.Zero(t, loads)

	_, err = p.PredictTensor(context.Background(), make(preprocess.Tensor, preprocess.Len))
	assert.ErrorIs(t, err, domain.ErrArtifactUnavailable)
	assert.Zero(t, loads)
}

type countingCloser struct{ closes int }

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestRunClosesLogFile(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantErr    bool
		wantCloses int
	}{
		{name: "failing command", args: []string{"train", "--dataset", "missing-dir"}, wantErr: true, wantCloses: 1},
		{name: "successful command", args: []string{"predict", "--help"}, wantCloses: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closer := &countingCloser{}
			a := newApp()
			a.openLog = func(string, logging.Config) (*slog.Logger, io.Closer) {
				return slog.New(slog.NewTextHandler(io.Discard, nil)), closer
			}

			err := a.run(context.Background(), func(ctx context.Context, root *cobra.Command) error {
				root.SetOut(io.Discard)
				root.SetErr(io.Discard)
				root.SetArgs(tt.args)
				return root.ExecuteContext(ctx)
			})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCloses, closer.closes)
			assert.Nil(t, a.logCloser)
		})
	}
}
