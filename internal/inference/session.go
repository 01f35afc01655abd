package inference

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend selects the ONNX Runtime execution provider
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendCUDA   Backend = "cuda"
	BackendCoreML Backend = "coreml"
	BackendCPU    Backend = "cpu"
)

var (
	initialized bool
	backend     Backend
	initMu      sync.Mutex
)

// Initialize sets up the ONNX Runtime environment (call once at startup).
// libraryPath may be empty to use the system default search path.
func Initialize(libraryPath string, b Backend) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	backend = b
	initialized = true
	return nil
}

// Shutdown cleans up the ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

// Session wraps an ONNX Runtime inference session
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputNames  []string
	outputNames []string
}

// NewSession creates a new inference session from an ONNX model using the
// backend chosen at Initialize. With BackendAuto, CUDA is tried first, then
// CoreML, then plain CPU; a provider that fails to attach is skipped rather
// than treated as fatal.
func NewSession(log zerolog.Logger, modelPath string, inputNames, outputNames []string) (*Session, error) {
	if !initialized {
		return nil, fmt.Errorf("ONNX Runtime not initialized, call Initialize() first")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	provider := attachProvider(options, backend)
	log.Debug().Str("model", modelPath).Str("provider", provider).Msg("inference session")

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}

	return &Session{
		session:     session,
		modelPath:   modelPath,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

// attachProvider appends the requested execution provider to the session
// options and reports the one that actually attached.
func attachProvider(options *ort.SessionOptions, b Backend) string {
	if b == BackendCUDA || b == BackendAuto {
		if cudaOpts, err := ort.NewCUDAProviderOptions(); err == nil {
			defer cudaOpts.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOpts); err == nil {
				return "cuda"
			}
		}
		if b == BackendCUDA {
			return "cpu"
		}
	}
	if b == BackendCoreML || b == BackendAuto {
		// Flag 0 = default settings, Neural Engine + GPU
		if err := options.AppendExecutionProviderCoreML(0); err == nil {
			return "coreml"
		}
	}
	return "cpu"
}

// Run executes inference with the given inputs
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	return s.session.Run(inputs, outputs)
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// CreateTensor creates a tensor with the given shape and data
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates an uninitialized tensor for output
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	data := make([]T, size)
	return ort.NewTensor(ort.NewShape(shape...), data)
}
