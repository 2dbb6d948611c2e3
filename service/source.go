package service

import (
	"context"

	"bookbuilder/domain/event"
)

// Source is a feed of book events. Run calls emit for every event in
// stream order until the feed ends, ctx is cancelled or emit fails.
type Source interface {
	Run(ctx context.Context, emit func(event.Event) error) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, emit func(event.Event) error) error

func (f SourceFunc) Run(ctx context.Context, emit func(event.Event) error) error {
	return f(ctx, emit)
}

// Tee returns an emit function that passes each event to every sink in
// order and stops at the first error.
func Tee(sinks ...func(event.Event) error) func(event.Event) error {
	return func(e event.Event) error {
		for _, sink := range sinks {
			if err := sink(e); err != nil {
				return err
			}
		}
		return nil
	}
}
