package logger

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/logger/config"
)

func NewZapLog(cfg config.Config) (*zap.Logger, error) {
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	// преобразуем текстовый уровень логирования в zap.AtomicLevel
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zapcfg := zap.NewProductionConfig()
	zapcfg.Level = lvl
	return zapcfg.Build()
}

// middleware-логер для входящих HTTP-запросов.
func RequestLogMdlw(h http.HandlerFunc, zaplog *zap.Logger) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		// тело запроса читаем только если оно есть
		var bodyBytes []byte
		if r.Body != nil && r.ContentLength != 0 {
			bodyBytes, _ = io.ReadAll(r.Body)
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		zaplog.Info("got incoming HTTP request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
			zap.String("remote", r.RemoteAddr),
		)
		zaplog.Debug("request body", zap.ByteString("body", bodyBytes))

		wl := NewResponseWriterLogger(w)

		handlerStart := time.Now()
		h(wl, r)
		handlerDuration := time.Since(handlerStart)

		if wl.hijacked {
			zaplog.Info("connection hijacked",
				zap.String("path", r.URL.Path),
				zap.Duration("duration", handlerDuration),
			)
			return
		}

		zaplog.Info("send HTTP response",
			zap.Int("code", wl.statusCode),
			zap.Int("length", wl.length),
			zap.Duration("duration", handlerDuration),
		)
		zaplog.Debug("response body", zap.ByteString("body", wl.body))
	})
}

type responseWriterLogger struct {
	http.ResponseWriter
	statusCode int
	length     int
	body       []byte
	hijacked   bool
}

func NewResponseWriterLogger(w http.ResponseWriter) *responseWriterLogger {
	return &responseWriterLogger{ResponseWriter: w, statusCode: http.StatusOK}
}

func (wl *responseWriterLogger) WriteHeader(code int) {
	wl.statusCode = code
	wl.ResponseWriter.WriteHeader(code)
}

func (wl *responseWriterLogger) Write(b []byte) (n int, err error) {
	wl.body = b
	n, err = wl.ResponseWriter.Write(b)
	wl.length += n
	return
}

// Hijack нужен для websocket-соединений киоска.
func (wl *responseWriterLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := wl.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		wl.hijacked = true
	}
	return conn, rw, err
}

func (wl *responseWriterLogger) Flush() {
	if f, ok := wl.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
