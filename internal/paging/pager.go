package paging

import (
	"context"
	"errors"
)

// ErrInvalidated is returned by Pager.Collect when the source was
// invalidated before all requested pages were read.
var ErrInvalidated = errors.New("paging source invalidated")

// Pager ties a source factory to its mediator.
type Pager[T any] struct {
	Factory  *Factory[T]
	Mediator RemoteMediator
}

// Close stops the factory.
func (p *Pager[T]) Close() { p.Factory.Close() }

// maxRestarts bounds how often Collect starts over on a fresh source after
// the current one was invalidated.
const maxRestarts = 3

// Collect runs the mediator's initial refresh when it asks for one, then
// reads up to pages pages from a fresh source, newest first. If the source
// is invalidated while reading, for example by the refresh signal arriving
// late, it starts over on a new source. A mediator failure is returned only
// if no page could be read.
func (p *Pager[T]) Collect(ctx context.Context, pages int) ([]T, error) {
	var mediatorErr error
	if p.Mediator.Initialize(ctx) == LaunchInitialRefresh {
		res, err := p.Mediator.Load(ctx, Refresh)
		if err != nil {
			return nil, err
		}
		mediatorErr = res.Err
	}

	for restart := 0; ; restart++ {
		out, err := p.walk(ctx, pages)
		if errors.Is(err, ErrInvalidated) && restart < maxRestarts {
			log.Debug("Source invalidated while collecting, starting over", "restart", restart+1)
			continue
		}
		if err != nil && len(out) == 0 && mediatorErr != nil && !errors.Is(err, ErrInvalidated) && ctx.Err() == nil {
			return nil, errors.Join(mediatorErr, err)
		}
		return out, err
	}
}

func (p *Pager[T]) walk(ctx context.Context, pages int) ([]T, error) {
	src := p.Factory.New()
	var out []T
	params := LoadParams{Kind: Refresh}
	for i := 0; i < pages; i++ {
		if src.IsInvalid() {
			return out, ErrInvalidated
		}
		res, err := src.Load(ctx, params)
		if err != nil {
			return out, err
		}
		switch res.Kind {
		case ResultInvalid:
			return out, ErrInvalidated
		case ResultError:
			return out, res.Err
		}
		out = append(out, res.Data...)
		if res.NextKey == nil {
			break
		}
		params = LoadParams{Kind: Append, Key: res.NextKey}
	}
	return out, nil
}
