package commands

import (
	"context"
	"runtime/debug"
	"time"

	"descbot/internal/transport"
	"descbot/pkg/logx"
)

// Request is one command on its way through the middleware chain.
type Request struct {
	ID       string
	Chat     transport.ChatTarget
	FromID   int64
	FromName string
	Source   string // "telegram" or "schedule:<name>"
	Command  Command
	Log      logx.Logger
}

type HandlerFunc func(ctx context.Context, req *Request) Result

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) Result {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (res Result) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Log.IsZero() {
						logger = req.Log
					}
					logger.Error("panic in command", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					res = fail("Internal error.")
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) Result {
			start := time.Now()
			logger := log
			if !req.Log.IsZero() {
				logger = req.Log
			}
			res := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{
				logx.String("source", req.Source),
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command.Name),
				logx.Duration("dur", d),
			}
			if !res.OK {
				logger.Info("command refused", append(fields, logx.String("reply", truncate(res.Text, 120)))...)
			} else {
				logger.Info("command ok", fields...)
			}
			return res
		}
	}
}
