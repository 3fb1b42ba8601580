//go:build !vosk

package vosk

import "errors"

// Enabled reports whether the binary was built with Vosk support.
const Enabled = false

var errNotBuilt = errors.New("on-device recognition requires building with -tags vosk")

type stubLoader struct{}

func newEngineLoader() engineLoader { return stubLoader{} }

func (stubLoader) load(string, float64) (engine, error) { return nil, errNotBuilt }
func (stubLoader) close()                               {}
