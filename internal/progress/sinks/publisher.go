package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
	"github.com/JakeFAU/adaptive-frontier/internal/progress"
)

// Message is the wire form of one event published by PublisherSink.
type Message struct {
	JobID       string `json:"job_id"`
	TS          string `json:"ts"`
	Stage       string `json:"stage"`
	Site        string `json:"site,omitempty"`
	URL         string `json:"url,omitempty"`
	Via         string `json:"via,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Precedence  int    `json:"precedence,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	StatusClass string `json:"status_class,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	Note        string `json:"note,omitempty"`
}

// Envelope groups the messages of one hub flush.
type Envelope struct {
	Events []Message `json:"events"`
}

// PublisherSink forwards events to a message bus, one envelope per batch.
// Stages restricts which events are forwarded; empty forwards all of them.
type PublisherSink struct {
	publisher crawler.Publisher
	topic     string
	stages    map[progress.Stage]struct{}
	logger    *zap.Logger
}

// NewPublisherSink constructs a sink publishing to topic.
func NewPublisherSink(publisher crawler.Publisher, topic string, stages []progress.Stage, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PublisherSink{publisher: publisher, topic: topic, logger: logger}
	if len(stages) > 0 {
		s.stages = make(map[progress.Stage]struct{}, len(stages))
		for _, stage := range stages {
			s.stages[stage] = struct{}{}
		}
	}
	return s
}

// Consume publishes the selected events of batch. Publish errors are
// returned verbatim so the hub can log them.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	env := Envelope{Events: make([]Message, 0, len(batch))}
	for _, evt := range batch {
		if s.stages != nil {
			if _, ok := s.stages[evt.Stage]; !ok {
				continue
			}
		}
		env.Events = append(env.Events, toMessage(evt))
	}
	if len(env.Events) == 0 {
		return nil
	}
	id, err := s.publisher.Publish(ctx, s.topic, env)
	if err != nil {
		return fmt.Errorf("publish progress batch: %w", err)
	}
	s.logger.Debug("published progress batch", zap.String("message_id", id), zap.Int("events", len(env.Events)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

func toMessage(evt progress.Event) Message {
	return Message{
		JobID:       evt.JobUUID().String(),
		TS:          evt.TS.UTC().Format(time.RFC3339Nano),
		Stage:       string(evt.Stage),
		Site:        evt.Site,
		URL:         evt.URL,
		Via:         evt.Via,
		Outcome:     evt.Outcome,
		Reason:      evt.Reason,
		Precedence:  evt.Precedence,
		Bytes:       evt.Bytes,
		StatusClass: string(evt.StatusClass),
		DurationMS:  evt.Dur.Milliseconds(),
		Note:        evt.Note,
	}
}
