package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "roomwatch/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// slowRequest promotes the completion log line from DEBUG to INFO.
const slowRequest = 750 * time.Millisecond

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Deadline bounds the handler context. d <= 0 leaves it unbounded.
func Deadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// Recover turns a handler panic into an error so one bad command cannot
// take a worker down.
func Recover(fallback logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestLogger(req, fallback).Error("handler panic",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("router: panic in %s: %v", requestName(req), r)
			}()
			return next(ctx, req)
		}
	}
}

// Trace logs the outcome and duration of every request. The request logger
// already carries rid, chat and command fields.
func Trace(fallback logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			log := requestLogger(req, fallback)
			switch {
			case err != nil:
				log.Warn("request failed", logx.Duration("took", took), logx.Err(err))
			case took >= slowRequest:
				log.Info("request done (slow)", logx.Duration("took", took))
			default:
				log.Debug("request done", logx.Duration("took", took))
			}
			return err
		}
	}
}

func requestLogger(req *Request, fallback logx.Logger) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

func requestName(req *Request) string {
	if req == nil || req.Command == "" {
		return "request"
	}
	return req.Command
}
