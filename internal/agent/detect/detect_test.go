package detect

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiklabs/aik/internal/agent/desktop"
)

func grayFrame(t *testing.T, w, h int, shade uint8) *desktop.Frame {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &desktop.Frame{PNG: buf.Bytes(), Width: w, Height: h}
}

func TestSimilarity_IdenticalBytes(t *testing.T) {
	f := grayFrame(t, 200, 100, 128)
	same := &desktop.Frame{PNG: append([]byte(nil), f.PNG...)}
	assert.Equal(t, 1.0, Similarity(f, same))
}

func TestSimilarity_VisuallyIdenticalDifferentEncodings(t *testing.T) {
	// Same pixels at different sizes downsample to the same thumbnail.
	a := grayFrame(t, 128, 128, 100)
	b := grayFrame(t, 256, 256, 100)
	sim := Similarity(a, b)
	assert.Greater(t, sim, UnchangedSimilarityThreshold)
}

func TestSimilarity_BlackVsWhite(t *testing.T) {
	black := grayFrame(t, 64, 64, 0)
	white := grayFrame(t, 64, 64, 255)
	sim := Similarity(black, white)
	assert.Less(t, sim, 0.1)
}

func TestSimilarity_DecodeFailureMeansChanged(t *testing.T) {
	good := grayFrame(t, 64, 64, 100)
	bad := &desktop.Frame{PNG: []byte("not a png")}
	assert.Equal(t, 0.0, Similarity(good, bad))
	assert.Equal(t, 0.0, Similarity(nil, good))
}

func TestDetect_Unchanged(t *testing.T) {
	f := grayFrame(t, 100, 100, 50)
	win := desktop.Window{Title: "Notepad", ProcessPath: `C:\Windows\notepad.exe`}

	signals := Detect(f, f, win, win, "")
	assert.True(t, signals.Unchanged)
	assert.False(t, signals.TitleChanged)
	assert.False(t, signals.ProcessChanged)
	assert.False(t, signals.ErrorDialogSuspected)
	assert.Contains(t, signals.Details, "screen_unchanged=true")
}

func TestDetect_WindowChanges(t *testing.T) {
	before := grayFrame(t, 100, 100, 0)
	after := grayFrame(t, 100, 100, 200)

	signals := Detect(before, after,
		desktop.Window{Title: "Notepad", ProcessPath: `C:\Windows\notepad.exe`},
		desktop.Window{Title: "Calculator", ProcessPath: `C:\Windows\calc.exe`},
		"")
	assert.False(t, signals.Unchanged)
	assert.True(t, signals.TitleChanged)
	assert.True(t, signals.ProcessChanged)
}

func TestDetect_WrongApp(t *testing.T) {
	f := grayFrame(t, 64, 64, 10)
	signals := Detect(f, f,
		desktop.Window{},
		desktop.Window{Title: "Calculator", ProcessPath: `C:\Windows\calc.exe`},
		"notepad.exe")
	assert.True(t, signals.WrongApp)
	assert.Contains(t, signals.Details, "wrong_app")
}

func TestSuspectErrorDialog(t *testing.T) {
	assert.True(t, SuspectErrorDialog("Error - Application"))
	assert.True(t, SuspectErrorDialog("User Account Control"))
	assert.True(t, SuspectErrorDialog("notepad.exe has stopped working"))
	assert.True(t, SuspectErrorDialog("Are you sure you want to delete?"))
	assert.False(t, SuspectErrorDialog("Document1 - Word"))
	assert.False(t, SuspectErrorDialog(""))
}

func TestSuggestRecovery_Priority(t *testing.T) {
	// Error dialog wins even when everything else also fired.
	advice := SuggestRecovery(FailureSignals{
		ErrorDialogSuspected: true,
		Unchanged:            true,
		ProcessChanged:       true,
		TitleChanged:         true,
	})
	require.NotNil(t, advice)
	assert.Equal(t, SeverityCritical, advice.Severity)
	assert.Contains(t, advice.Note, "error dialog")

	advice = SuggestRecovery(FailureSignals{Unchanged: true, ProcessChanged: true})
	require.NotNil(t, advice)
	assert.Equal(t, SeverityWarning, advice.Severity)
	assert.Contains(t, advice.Note, "unchanged")

	advice = SuggestRecovery(FailureSignals{ProcessChanged: true})
	require.NotNil(t, advice)
	assert.Contains(t, advice.Note, "different application")

	advice = SuggestRecovery(FailureSignals{TitleChanged: true})
	require.NotNil(t, advice)
	assert.Equal(t, SeverityInfo, advice.Severity)

	assert.Nil(t, SuggestRecovery(FailureSignals{}))
}
