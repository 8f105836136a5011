// Package gateway turns websocket frames into service calls. Every inbound
// event passes the per-user rate limit, is decoded and validated, and is
// answered with an ack frame when the client asked for one. Failures go
// back as an error frame to the originating connection only.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/ratelimit"
	"github.com/lalith-99/chorus/internal/realtime"
	"github.com/lalith-99/chorus/internal/service"
	"go.uber.org/zap"
)

const cleanupTimeout = 5 * time.Second

// H is an ack payload.
type H map[string]any

type handlerFunc func(ctx context.Context, c *realtime.Client, data json.RawMessage) (any, error)

type Gateway struct {
	svc      *service.Services
	limiter  *ratelimit.Limiter
	validate *validator.Validate
	handlers map[string]handlerFunc
	logger   *zap.Logger
}

// New builds the dispatch table. limiter may be nil to disable the general
// event limit.
func New(svc *service.Services, limiter *ratelimit.Limiter, logger *zap.Logger) *Gateway {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	g := &Gateway{
		svc:      svc,
		limiter:  limiter,
		validate: v,
		logger:   logger.Named("gateway"),
	}
	g.handlers = g.routes()
	return g
}

// Serve runs one connection to completion: room snapshot, pumps, then
// cleanup once the socket is gone.
func (g *Gateway) Serve(ctx context.Context, c *realtime.Client) {
	if err := g.svc.Rooms.Connect(ctx, c); err != nil {
		g.logger.Error("connect failed", zap.String("user_id", c.UserID().String()), zap.Error(err))
		c.SendError(errorPayload(err))
		c.Close()
		c.WritePump()
		return
	}

	go c.WritePump()
	c.ReadPump(ctx, g.Handle)

	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	g.svc.Typing.Disconnect(cleanupCtx, c)
	g.svc.Rooms.Disconnect(cleanupCtx, c)
}

// Handle processes a single raw frame. It never returns an error: every
// failure is reported to the client.
func (g *Gateway) Handle(ctx context.Context, c *realtime.Client, raw []byte) {
	// Every frame costs a point, including ones that fail to parse.
	if g.limiter != nil {
		if ok, retryAfter := g.limiter.Consume(c.UserID().String()); !ok {
			var in realtime.Inbound
			_ = json.Unmarshal(raw, &in)
			g.fail(c, in.Ack, in.Event, apperror.RateLimited(apperror.CodeRateLimited, retryAfter))
			return
		}
	}

	var in realtime.Inbound
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		g.fail(c, nil, "", apperror.Validation(apperror.CodeInvalidPayload, "malformed frame"))
		return
	}

	h, ok := g.handlers[in.Event]
	if !ok {
		g.fail(c, in.Ack, in.Event, apperror.Validation(apperror.CodeUnknownEvent, "unknown event "+in.Event))
		return
	}

	result, err := h(ctx, c, in.Data)
	if err != nil {
		g.fail(c, in.Ack, in.Event, err)
		return
	}
	if in.Ack != nil {
		if result == nil {
			result = H{"success": true}
		}
		c.SendAck(*in.Ack, result)
	}
}

func (g *Gateway) fail(c *realtime.Client, ack *int64, event string, err error) {
	appErr := apperror.As(err)
	if appErr.Kind == apperror.KindInternal {
		g.logger.Error("event failed",
			zap.String("event", event),
			zap.String("user_id", c.UserID().String()),
			zap.Error(err),
		)
	} else {
		g.logger.Debug("event rejected",
			zap.String("event", event),
			zap.String("code", appErr.Code),
			zap.String("user_id", c.UserID().String()),
		)
	}

	payload := errorPayload(appErr)
	c.SendError(payload)
	if ack != nil {
		c.SendAck(*ack, H{"success": false, "error": payload.Message, "code": payload.Code})
	}
}

// errorPayload hides internal causes from clients.
func errorPayload(err error) realtime.ErrorPayload {
	appErr := apperror.As(err)
	msg := appErr.Message
	if appErr.Kind == apperror.KindInternal {
		msg = "internal error"
	}
	return realtime.ErrorPayload{
		Message:    msg,
		Code:       appErr.Code,
		RetryAfter: appErr.RetryAfter.Milliseconds(),
	}
}

// bind decodes and validates an event payload.
func bind[T any](v *validator.Validate, data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, apperror.Validation(apperror.CodeInvalidPayload, "invalid payload")
	}
	if err := v.Struct(&out); err != nil {
		return out, apperror.Validation(apperror.CodeInvalidPayload, formatValidation(err))
	}
	return out, nil
}

func formatValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required", "required_without":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		case "excluded_with":
			msgs = append(msgs, fmt.Sprintf("%s cannot be combined with %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}
