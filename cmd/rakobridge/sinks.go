package main

import (
	"context"
	"errors"

	"github.com/nerrad567/rako-bridge/internal/audit"
	"github.com/nerrad567/rako-bridge/internal/bridges/rako"
)

// journalAdapter writes bridge command records to the audit journal.
type journalAdapter struct {
	repo audit.Repository
}

// RecordCommand implements rako.CommandJournal.
func (a journalAdapter) RecordCommand(ctx context.Context, rec rako.CommandRecord) error {
	return a.repo.Create(ctx, &audit.Entry{
		Topic:   rec.Topic,
		Payload: string(rec.Payload),
		Kind:    string(rec.Kind),
		Room:    rec.Room,
		Channel: rec.Channel,
		Value:   rec.Value,
		Outcome: rec.Outcome,
		Reason:  rec.Reason,
	})
}

// telemetryWriter is the subset of the InfluxDB client used for events.
type telemetryWriter interface {
	WriteLevel(room, channel, level int)
	WriteScene(room, scene int)
	WriteConnection(state string, reconnects uint64)
}

// telemetrySink records level, scene and connection events as points.
type telemetrySink struct {
	w telemetryWriter
}

// HandleEvent implements rako.EventSink.
func (s telemetrySink) HandleEvent(ev rako.Event) {
	switch ev.Type {
	case rako.EventLevel:
		s.w.WriteLevel(ev.Room, ev.Channel, ev.Level)
	case rako.EventScene:
		s.w.WriteScene(ev.Room, ev.Scene)
	case rako.EventConnection:
		s.w.WriteConnection(ev.State, ev.Reconnects)
	}
}

// fanout delivers each event to every sink in order.
type fanout []rako.EventSink

// HandleEvent implements rako.EventSink.
func (f fanout) HandleEvent(ev rako.Event) {
	for _, sink := range f {
		sink.HandleEvent(ev)
	}
}

// newEventSink combines the non-nil sinks. It returns nil when there are
// none so the bridge skips event delivery entirely.
func newEventSink(sinks ...rako.EventSink) rako.EventSink {
	var out fanout
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

// ignoreDisabled treats a disabled optional component as absent.
func ignoreDisabled(err, disabled error) error {
	if errors.Is(err, disabled) {
		return nil
	}
	return err
}
