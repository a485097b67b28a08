package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"transhub/internal/model"
)

// DebugEngine is the in-process reference engine used by tests and local
// setups. In success mode it returns the text prefixed with the target
// language; in fail mode it returns a retryable error. FailTimes turns fail
// mode into a flaky engine that recovers after N calls.
type DebugEngine struct {
	mode      string
	failTimes int64
	calls     atomic.Int64
}

const (
	debugModeSuccess = "SUCCESS"
	debugModeFail    = "FAIL"
)

// NewDebugEngine builds a DebugEngine. Recognized config keys: "mode"
// ("SUCCESS" or "FAIL", default "SUCCESS") and "fail_times" (int; with mode
// FAIL, succeed after that many failed calls; 0 fails forever).
func NewDebugEngine(cfg map[string]any) (Engine, error) {
	eng := &DebugEngine{mode: debugModeSuccess}
	if cfg != nil {
		if mode, ok := cfg["mode"].(string); ok && mode != "" {
			switch mode {
			case debugModeSuccess, debugModeFail:
				eng.mode = mode
			default:
				return nil, fmt.Errorf("debug engine: unknown mode %q", mode)
			}
		}
		switch v := cfg["fail_times"].(type) {
		case int:
			eng.failTimes = int64(v)
		case int64:
			eng.failTimes = v
		case float64:
			eng.failTimes = int64(v)
		}
	}
	return eng, nil
}

func init() {
	Register("debug", NewDebugEngine)
}

func (e *DebugEngine) Info() Info {
	return Info{
		Name:           "debug",
		Version:        "1.0.0",
		AcceptsContext: true,
		MaxConcurrency: 4,
	}
}

func (e *DebugEngine) TranslateOne(ctx context.Context, text, targetLang, sourceLang string, contextPayload model.Payload) model.EngineResult {
	call := e.calls.Add(1)
	if e.mode == debugModeFail {
		if e.failTimes == 0 || call <= e.failTimes {
			return model.EngineFailure("debug engine simulated failure", true)
		}
	}
	return model.EngineSuccess("[" + targetLang + "]" + text)
}

// Calls reports how many times TranslateOne ran; tests assert retry counts
// through it.
func (e *DebugEngine) Calls() int64 {
	return e.calls.Load()
}

func (e *DebugEngine) Initialize(ctx context.Context) error { return nil }

func (e *DebugEngine) Close() error { return nil }
