package jobs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/dudu/swapstream/internal/detector"
	"github.com/dudu/swapstream/internal/imaging"
	"github.com/dudu/swapstream/internal/reference"
)

type stubLocator struct{}

func (stubLocator) Detect(img gocv.Mat) ([]detector.Face, error) {
	return []detector.Face{
		{BoundingBox: detector.BoundingBox{X1: 10, Y1: 10, X2: 90, Y2: 90}},
	}, nil
}

// storeWithReference returns a reference store holding one active face
func storeWithReference(t *testing.T) *reference.Store {
	t.Helper()
	store := reference.NewStore(zerolog.Nop(), stubLocator{})

	img := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer img.Close()
	data, err := imaging.EncodeJPEG(img, 90)
	require.NoError(t, err)

	_, err = store.Set(data, "ref.jpg")
	require.NoError(t, err)
	return store
}

func awaitStatus(t *testing.T, m *Manager, id string, want Status) StatusView {
	t.Helper()
	var view StatusView
	require.Eventually(t, func() bool {
		v, err := m.Status(id)
		if err != nil {
			return false
		}
		view = v
		return v.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return view
}

func TestSubmitWithoutReferenceIsRejected(t *testing.T) {
	store := reference.NewStore(zerolog.Nop(), stubLocator{})
	m := NewManager(zerolog.Nop(), store, t.TempDir(), 1, func(in, out string, report func(float64, string)) error {
		t.Fatal("runner must not be called")
		return nil
	})

	_, err := m.Submit([]byte("video bytes"), "clip.mp4")
	assert.ErrorIs(t, err, ErrNoReference)
	assert.Zero(t, m.Count())
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	dir := t.TempDir()
	run := func(in, out string, report func(float64, string)) error {
		report(40, "frame 10/25")
		return os.WriteFile(out, []byte("encoded video"), 0o644)
	}
	m := NewManager(zerolog.Nop(), storeWithReference(t), dir, 1, run)

	id, err := m.Submit([]byte("video bytes"), "clip.mp4")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, m.Count())

	view := awaitStatus(t, m, id, StatusDone)
	assert.Equal(t, float64(100), view.Progress)
	assert.True(t, view.Ready)
	assert.Equal(t, "done", view.Message)

	// Polling a settled job is side-effect-free
	again, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, view, again)

	path, err := m.Result(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out_"+id+".mp4"), path)

	// The uploaded input temp file is gone
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "in_"+id+".mp4"))
		return os.IsNotExist(err)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubmitKeepsUploadExtension(t *testing.T) {
	var gotInput string
	done := make(chan struct{})
	run := func(in, out string, report func(float64, string)) error {
		gotInput = in
		close(done)
		return os.WriteFile(out, nil, 0o644)
	}
	m := NewManager(zerolog.Nop(), storeWithReference(t), t.TempDir(), 1, run)

	_, err := m.Submit([]byte("video bytes"), "clip.mov")
	require.NoError(t, err)

	<-done
	assert.True(t, strings.HasSuffix(gotInput, ".mov"))
}

func TestFailedJobReportsErrorAndRemovesOutput(t *testing.T) {
	dir := t.TempDir()
	run := func(in, out string, report func(float64, string)) error {
		report(30, "frame 5/25")
		if err := os.WriteFile(out, []byte("partial"), 0o644); err != nil {
			return err
		}
		return errors.New("could not open input video")
	}
	m := NewManager(zerolog.Nop(), storeWithReference(t), dir, 1, run)

	id, err := m.Submit([]byte("video bytes"), "clip.mp4")
	require.NoError(t, err)

	view := awaitStatus(t, m, id, StatusError)
	assert.Equal(t, "could not open input video", view.Message)
	assert.False(t, view.Ready)
	// Last reported progress survives into the error state
	assert.Equal(t, float64(30), view.Progress)

	_, statErr := os.Stat(filepath.Join(dir, "out_"+id+".mp4"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = m.Result(id)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestProgressVisibleWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	reported := make(chan struct{})
	run := func(in, out string, report func(float64, string)) error {
		report(60, "frame 15/25")
		close(reported)
		<-release
		return os.WriteFile(out, nil, 0o644)
	}
	m := NewManager(zerolog.Nop(), storeWithReference(t), t.TempDir(), 1, run)

	id, err := m.Submit([]byte("video bytes"), "clip.mp4")
	require.NoError(t, err)

	<-reported
	view, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, view.Status)
	assert.Equal(t, float64(60), view.Progress)
	assert.Equal(t, "frame 15/25", view.Message)
	assert.False(t, view.Ready)

	_, err = m.Result(id)
	assert.ErrorIs(t, err, ErrNotReady)

	close(release)
	awaitStatus(t, m, id, StatusDone)
}

func TestStatusUnknownJob(t *testing.T) {
	m := NewManager(zerolog.Nop(), storeWithReference(t), t.TempDir(), 1, nil)

	_, err := m.Status("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Result("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultRequiresOutputOnDisk(t *testing.T) {
	dir := t.TempDir()
	run := func(in, out string, report func(float64, string)) error {
		return os.WriteFile(out, []byte("encoded video"), 0o644)
	}
	m := NewManager(zerolog.Nop(), storeWithReference(t), dir, 1, run)

	id, err := m.Submit([]byte("video bytes"), "clip.mp4")
	require.NoError(t, err)
	awaitStatus(t, m, id, StatusDone)

	path, err := m.Result(id)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	_, err = m.Result(id)
	assert.ErrorIs(t, err, ErrNotReady)
}
