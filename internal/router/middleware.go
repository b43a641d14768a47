package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs commands at INFO and plain messages at DEBUG.
func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Duration("dur", time.Since(start)),
			}
			switch {
			case err != nil:
				req.Log.Warn("request failed", append(fields, logx.Err(err))...)
			case req.Command == "":
				req.Log.Debug("message handled", fields...)
			default:
				req.Log.Info("request ok", fields...)
			}
			return err
		}
	}
}

// mwAccess enforces a command's Access and answers refusals itself.
func (r *Router) mwAccess(a Access) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			deny := ""
			switch a {
			case AccessOwnerOnly:
				if !req.Owner {
					deny = "unauthorized"
				}
			case AccessAdmin:
				switch {
				case !req.IsGroup:
					deny = "this command works in groups only"
				case req.Owner:
				default:
					ok, err := r.port.IsAdmin(ctx, req.Chat.ChatID, req.FromID)
					if err != nil {
						req.Log.Warn("admin check failed", logx.Err(err))
						deny = "could not verify admin rights, try again later"
					} else if !ok {
						deny = "admins only"
					}
				}
			}
			if deny == "" {
				return next(ctx, req)
			}
			req.Log.Debug("access denied", logx.String("reason", deny))
			if req.Callback != nil {
				return r.port.AnswerCallback(ctx, req.Callback.ID, deny)
			}
			_, err := r.port.SendText(ctx, req.Chat, deny, &kit.SendOptions{ReplyTo: req.messageID()})
			return err
		}
	}
}
