package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hupe1980/agentrelay/core"
)

// eventPrinter renders events either as JSON lines or as a terse
// human-readable transcript.
type eventPrinter struct {
	w    io.Writer
	json bool
	// streaming is set while partial fragments are being written inline.
	streaming bool
}

func (p *eventPrinter) print(ev core.Event) error {
	if p.json {
		return json.NewEncoder(p.w).Encode(ev)
	}

	if ev.IsPartial() {
		p.streaming = true
		_, err := fmt.Fprint(p.w, ev.Content)
		return err
	}
	if p.streaming {
		p.streaming = false
		if _, err := fmt.Fprintln(p.w); err != nil {
			return err
		}
	}

	var err error
	switch ev.Kind {
	case core.EventStatusProgress:
		_, err = fmt.Fprintf(p.w, "[%3.0f%%] %s\n", *ev.Progress*100, ev.Content)
	case core.EventMessage:
		// the full reply repeats in the completed event
	case core.EventCompleted:
		_, err = fmt.Fprintf(p.w, "assistant: %s\n", ev.Content)
	case core.EventClarificationRequest:
		_, err = fmt.Fprintf(p.w, "assistant (%s): %s\n", ev.Stage, ev.Content)
	case core.EventSessionUpdated:
		_, err = fmt.Fprintf(p.w, "session %s %v\n", ev.SessionID, ev.Metadata["action"])
	case core.EventError, core.EventNotFound, core.EventInvalidState:
		_, err = fmt.Fprintf(p.w, "%s [%s]: %s\n", ev.Kind, ev.ErrorCode, ev.ErrorMessage)
	default:
		_, err = fmt.Fprintf(p.w, "%s %s\n", ev.Kind, ev.TaskID)
	}
	return err
}

func (p *eventPrinter) drain(events <-chan core.Event) error {
	for ev := range events {
		if err := p.print(ev); err != nil {
			return err
		}
	}
	return nil
}
