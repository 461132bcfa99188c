// Package realtime feeds push-delivered events into the synchronization
// engine. Sources decode frames into model.Event values on a channel.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mahaj/chatcore/pkg/model"
)

// Source is a push channel. Run blocks until ctx is done and closes Events
// when it returns.
type Source interface {
	Events() <-chan model.Event
	Run(ctx context.Context) error
}

const eventBuffer = 256

// Decode reads every event in a frame. A frame holds one or more JSON
// objects, each either an event or a bare message as published by the
// messaging service.
func Decode(frame []byte) ([]model.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	var out []model.Event
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode frame: %w", err)
		}
		ev, err := decodeOne(raw)
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func decodeOne(raw json.RawMessage) (model.Event, error) {
	var probe struct {
		Kind     model.EventKind `json:"kind"`
		UniqueID string          `json:"unique_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return model.Event{}, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case probe.Kind != "":
		var ev model.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return model.Event{}, fmt.Errorf("decode %s event: %w", probe.Kind, err)
		}
		return ev, nil
	case probe.UniqueID != "":
		var m model.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return model.Event{}, fmt.Errorf("decode message: %w", err)
		}
		return model.Event{Kind: model.EventMessage, Message: &m}, nil
	}
	return model.Event{}, errors.New("frame is neither an event nor a message")
}

// emit hands ev to the consumer, giving up when ctx is done.
func emit(ctx context.Context, ch chan<- model.Event, ev model.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep waits d or until ctx is done, reporting whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
