package pipeline

import (
	"context"
	"time"

	"github.com/teslashibe/go-tdoa/internal/mailbox"
	"github.com/teslashibe/go-tdoa/internal/observe"
	"github.com/teslashibe/go-tdoa/internal/spectral"
)

// Estimate is the per-cycle delay handed to the visualization consumer
type Estimate struct {
	Seq      uint64         `json:"seq"`
	Delay    float64        `json:"delay"`
	RawDelay float64        `json:"raw_delay"`
	Peak     spectral.Point `json:"peak"`
	At       time.Time      `json:"at"`
}

// Outputs are the single-slot mailboxes the pipeline publishes into. Each
// consumer drains the mailboxes it cares about at its own pace.
type Outputs struct {
	LeftSpectrum   *mailbox.Mailbox[spectral.Plot]
	RightSpectrum  *mailbox.Mailbox[spectral.Plot]
	LeftThreshold  *mailbox.Mailbox[spectral.Plot]
	RightThreshold *mailbox.Mailbox[spectral.Plot]
	Correlation    *mailbox.Mailbox[spectral.Plot]
	Window         *mailbox.Mailbox[WindowSnapshot]

	// Delay feeds the telemetry sink.
	Delay *mailbox.Mailbox[float64]
	// Estimates feeds the visualization consumer.
	Estimates *mailbox.Mailbox[Estimate]
}

// NewOutputs creates every output mailbox with the same policy
func NewOutputs(policy mailbox.Policy) *Outputs {
	return &Outputs{
		LeftSpectrum:   mailbox.New[spectral.Plot]("left_spectrum", policy),
		RightSpectrum:  mailbox.New[spectral.Plot]("right_spectrum", policy),
		LeftThreshold:  mailbox.New[spectral.Plot]("left_threshold", policy),
		RightThreshold: mailbox.New[spectral.Plot]("right_threshold", policy),
		Correlation:    mailbox.New[spectral.Plot]("correlation", policy),
		Window:         mailbox.New[WindowSnapshot]("window", policy),
		Delay:          mailbox.New[float64]("delay", policy),
		Estimates:      mailbox.New[Estimate]("estimates", policy),
	}
}

// publish offers every output of one cycle. Lost values are counted per
// mailbox and never block the pipeline.
func (o *Outputs) publish(ctx context.Context, c Cycle, seq uint64, m *observe.Metrics) {
	drop := func(name string, stored bool) {
		if !stored {
			m.RecordDrops(ctx, name, 1)
		}
	}

	drop(o.LeftSpectrum.Name(), o.LeftSpectrum.Publish(c.LeftSpectrum))
	drop(o.RightSpectrum.Name(), o.RightSpectrum.Publish(c.RightSpectrum))
	drop(o.LeftThreshold.Name(), o.LeftThreshold.Publish(c.LeftThreshold))
	drop(o.RightThreshold.Name(), o.RightThreshold.Publish(c.RightThreshold))
	drop(o.Correlation.Name(), o.Correlation.Publish(c.Correlation))
	drop(o.Window.Name(), o.Window.Publish(c.Window))
	drop(o.Delay.Name(), o.Delay.Publish(c.Delay))
	drop(o.Estimates.Name(), o.Estimates.Publish(Estimate{
		Seq:      seq,
		Delay:    c.Delay,
		RawDelay: c.RawDelay,
		Peak:     c.Peak,
		At:       time.Now(),
	}))
}

// Stats returns the counters of every mailbox.
func (o *Outputs) Stats() []mailbox.Stats {
	return []mailbox.Stats{
		o.LeftSpectrum.Stats(),
		o.RightSpectrum.Stats(),
		o.LeftThreshold.Stats(),
		o.RightThreshold.Stats(),
		o.Correlation.Stats(),
		o.Window.Stats(),
		o.Delay.Stats(),
		o.Estimates.Stats(),
	}
}
