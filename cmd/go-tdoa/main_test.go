package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/teslashibe/go-tdoa/internal/capture"
)

func TestPipelineExit(t *testing.T) {
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		err     error
		wantErr bool
	}{
		{"nil", live, nil, false},
		{"canceled", done, context.Canceled, false},
		{"capture closed while running", live, capture.ErrClosed, true},
		{"capture closed on shutdown", done, capture.ErrClosed, false},
		{"other failure", live, errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pipelineExit(tt.ctx, tt.err)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, tt.err) {
				t.Errorf("error %v does not wrap %v", err, tt.err)
			}
		})
	}
}

func TestIgnoreCanceled(t *testing.T) {
	if err := ignoreCanceled(fmt.Errorf("run: %w", context.Canceled)); err != nil {
		t.Errorf("wrapped cancel should be ignored, got %v", err)
	}
	want := errors.New("device lost")
	if err := ignoreCanceled(want); !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}
