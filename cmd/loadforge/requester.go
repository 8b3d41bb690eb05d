package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/torosent/loadforge/internal/dispatcher"
	"github.com/torosent/loadforge/internal/templates"
)

// templateRequester runs one request cycle: pick a template, resolve it with
// a fresh memory scope and dispatch it.
type templateRequester struct {
	prepared   []*templates.PreparedRequest
	selector   *templates.Selector
	dispatcher *dispatcher.Dispatcher
}

func newTemplateRequester(prepared []*templates.PreparedRequest, mode templates.Mode, d *dispatcher.Dispatcher) (*templateRequester, error) {
	if len(prepared) == 0 {
		return nil, fmt.Errorf("no request templates selected")
	}
	return &templateRequester{
		prepared:   prepared,
		selector:   templates.NewSelector(len(prepared), mode),
		dispatcher: d,
	}, nil
}

// Do implements runner.Requester. Resolution failures are configuration
// errors and stop the run.
func (r *templateRequester) Do(ctx context.Context) (*dispatcher.Record, error) {
	if ctx.Err() != nil {
		return nil, nil
	}
	p := r.prepared[r.selector.Next()]
	req, err := p.Resolve()
	if err != nil {
		return nil, err
	}
	rec := r.dispatcher.Dispatch(ctx, req)
	if rec.Canceled() {
		return nil, nil
	}
	return &rec, nil
}

// recordLogger logs admitted records according to the verbose, request and
// log-errors switches. Failures go to Debug when no switch claims them.
type recordLogger struct {
	logger    *zap.Logger
	verbose   bool
	request   bool
	logErrors bool
}

func (l *recordLogger) enabled() bool {
	return l.verbose || l.request || l.logErrors || l.logger.Core().Enabled(zap.DebugLevel)
}

// Observe implements runner.Sink.
func (l *recordLogger) Observe(rec dispatcher.Record) {
	fields := []zap.Field{
		zap.String("template", rec.Template),
		zap.String("method", rec.Method),
		zap.String("url", rec.URL),
		zap.String("status", rec.StatusLabel()),
		zap.Duration("latency", rec.Latency),
	}
	if l.request && rec.RequestBody != "" {
		req := append(fields, zap.String("body", rec.RequestBody))
		if len(rec.Values) > 0 {
			req = append(req, zap.Any("values", rec.Values))
		}
		l.logger.Info("request", req...)
	}
	if !rec.Success() {
		failed := append(fields, zap.String("failure", string(rec.Failure)), zap.String("error", rec.Error))
		switch {
		case l.logErrors:
			l.logger.Warn("request failed", failed...)
			return
		case !l.verbose:
			l.logger.Debug("request failed", failed...)
			return
		}
	}
	if l.verbose {
		if len(rec.ResponseHeaders) > 0 {
			fields = append(fields, zap.Any("headers", rec.ResponseHeaders))
		}
		if rec.ResponseBody != "" {
			fields = append(fields, zap.String("body", rec.ResponseBody))
		}
		if rec.Error != "" {
			fields = append(fields, zap.String("error", rec.Error))
		}
		l.logger.Info("response", fields...)
	}
}
