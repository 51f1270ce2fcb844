package http

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/alumnia/assistant/internal/service"
)

// streamSink adapts an echo response to service.StreamSink. Metadata goes
// out as headers before the first body byte; tokens are flushed as they
// arrive.
type streamSink struct {
	c       echo.Context
	flusher http.Flusher
	started bool
}

func newStreamSink(c echo.Context) *streamSink {
	return &streamSink{c: c}
}

func (s *streamSink) Meta(meta service.TurnMeta) error {
	if s.started {
		return nil
	}
	header := s.c.Response().Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Conversation-Id", meta.ConversationID)
	header.Set("X-Turn-Source", string(meta.Source))
	header.Set("X-Cache-Hit", fmt.Sprintf("%t", meta.CacheHit))
	if meta.Provider != "" {
		header.Set("X-Provider-Used", meta.Provider)
	}
	if meta.ModelID != "" {
		header.Set("X-Model-Used", meta.ModelID)
	}
	s.c.Response().WriteHeader(http.StatusOK)

	if flusher, ok := s.c.Response().Writer.(http.Flusher); ok {
		s.flusher = flusher
	}
	s.started = true
	return nil
}

func (s *streamSink) WriteToken(text string) error {
	if _, err := s.c.Response().Writer.Write([]byte(text)); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
