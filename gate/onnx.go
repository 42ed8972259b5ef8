package gate

import (
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Scorer is the scoring-artifact contract: a pure function from the
// feature vector to a probability in [0,1].
type Scorer interface {
	Score(features []float64) (float64, error)
	Close() error
}

var ortOnce sync.Once

func initORT() error {
	var err error
	ortOnce.Do(func() {
		libPath := "/usr/lib/libonnxruntime.so"
		switch runtime.GOOS {
		case "windows":
			libPath = "onnxruntime.dll"
		case "darwin":
			libPath = "libonnxruntime.dylib"
		}
		ort.SetSharedLibraryPath(libPath)
		err = ort.InitializeEnvironment()
	})
	return err
}

// ONNXScorer runs a single-output ONNX model with input shape (1, NFeatures).
// Not safe for concurrent use; the Gatekeeper serializes calls.
type ONNXScorer struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// LoadONNX loads the scoring model at path and returns a ready scorer.
func LoadONNX(path string) (Scorer, error) {
	if err := initORT(); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, NFeatures), make([]float32, NFeatures))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{"input"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session for %s: %w", path, err)
	}

	return &ONNXScorer{session: session, input: inputTensor, output: outputTensor}, nil
}

func (m *ONNXScorer) Score(features []float64) (float64, error) {
	if len(features) != NFeatures {
		return 0, fmt.Errorf("expected %d features, got %d", NFeatures, len(features))
	}

	data := m.input.GetData()
	for i, f := range features {
		data[i] = float32(f)
	}
	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("inference: %w", err)
	}

	score := float64(m.output.GetData()[0])
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func (m *ONNXScorer) Close() error {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
	return nil
}
