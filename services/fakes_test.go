package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type fakeAnalyzer struct {
	text  string
	err   error
	hang  bool
	calls atomic.Int32
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, batch UploadBatch) (*AnalysisResult, error) {
	f.calls.Add(1)
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &AnalysisResult{Text: f.text, Model: "fake-vision", InputTokens: 10, OutputTokens: 20, TotalTokens: 30}, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	fail    map[int]bool
	prompts []string
	refs    []RenderRef
	delay   time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, ref RenderRef) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.refs = append(f.refs, ref)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail[ref.Index] {
		return "", errors.New("content policy violation")
	}
	return fmt.Sprintf("https://img.test/%d.png", ref.Index), nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}
