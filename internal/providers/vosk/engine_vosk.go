//go:build vosk

package vosk

import (
	"fmt"
	"sync"

	voskapi "github.com/alphacep/vosk-api/go"
)

// Enabled reports whether the binary was built with Vosk support.
const Enabled = true

func init() {
	voskapi.SetLogLevel(-1)
}

// modelCache keeps loaded models for the life of the provider; loading a
// model takes seconds while a recognizer is cheap.
type modelCache struct {
	mu     sync.Mutex
	models map[string]*voskapi.VoskModel
}

func newEngineLoader() engineLoader {
	return &modelCache{models: make(map[string]*voskapi.VoskModel)}
}

func (c *modelCache) load(modelDir string, sampleRate float64) (engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	model, ok := c.models[modelDir]
	if !ok {
		loaded, err := voskapi.NewModel(modelDir)
		if err != nil {
			return nil, fmt.Errorf("while creating Vosk model: %v", err)
		}
		model = loaded
		c.models[modelDir] = model
	}

	rec, err := voskapi.NewRecognizer(model, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("while creating Vosk recognizer: %v", err)
	}
	rec.SetMaxAlternatives(maxAlternatives)
	return &voskEngine{rec: rec}, nil
}

func (c *modelCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for dir, model := range c.models {
		model.Free()
		delete(c.models, dir)
	}
}

type voskEngine struct {
	rec *voskapi.VoskRecognizer
}

func (e *voskEngine) accept(chunk []byte) bool { return e.rec.AcceptWaveform(chunk) != 0 }
func (e *voskEngine) result() string           { return e.rec.Result() }
func (e *voskEngine) partial() string          { return e.rec.PartialResult() }
func (e *voskEngine) final() string            { return e.rec.FinalResult() }
func (e *voskEngine) free()                    { e.rec.Free() }
