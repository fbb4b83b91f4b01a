// Package reader reads card numbers from a reader device or a simulator and
// hands them to the ingress.
package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/model"
	"github.com/iurnickita/cardterminal/internal/reader/config"
)

var (
	ErrUnknownType = errors.New("unknown reader type")
	ErrBadCard     = errors.New("unreadable card number")
)

// TagReader blocks until a card is read or ctx is cancelled.
// io.EOF means the reader has no more cards.
type TagReader interface {
	Read(ctx context.Context) (model.CardID, error)
	Close() error
}

// Sink receives every card read. It must return quickly.
type Sink interface {
	OnCardPresented(session string, card model.CardID) bool
}

// New opens the reader configured by cfg. stdin is used by the stdin type.
func New(cfg config.Config, stdin io.Reader) (TagReader, error) {
	switch cfg.Type {
	case config.TypeStdin:
		return NewLineReader(stdin, nil, cfg.Radix), nil
	case config.TypeDevice:
		f, err := os.Open(cfg.Device)
		if err != nil {
			return nil, fmt.Errorf("open card reader %s: %w", cfg.Device, err)
		}
		return NewLineReader(f, f, cfg.Radix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}

type line struct {
	text string
	err  error
}

// LineReader reads one card number per line, as keyboard-wedge readers and
// the simulator emit them.
type LineReader struct {
	lines  chan line
	closer io.Closer
	radix  int

	done chan struct{}
	once sync.Once
}

func NewLineReader(r io.Reader, closer io.Closer, radix int) *LineReader {
	if radix != 16 {
		radix = 10
	}
	lr := &LineReader{
		lines:  make(chan line),
		closer: closer,
		radix:  radix,
		done:   make(chan struct{}),
	}
	go lr.scan(r)
	return lr
}

func (lr *LineReader) scan(r io.Reader) {
	defer close(lr.lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lr.lines <- line{text: scanner.Text()}:
		case <-lr.done:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case lr.lines <- line{err: err}:
	case <-lr.done:
	}
}

// Read returns the next card. Blank lines are skipped.
func (lr *LineReader) Read(ctx context.Context) (model.CardID, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case l, ok := <-lr.lines:
			if !ok {
				return 0, io.EOF
			}
			if l.err != nil {
				return 0, l.err
			}
			text := strings.TrimSpace(l.text)
			if text == "" {
				continue
			}
			return ParseCard(text, lr.radix)
		}
	}
}

func (lr *LineReader) Close() error {
	lr.once.Do(func() {
		close(lr.done)
	})
	if lr.closer == nil {
		return nil
	}
	return lr.closer.Close()
}

// ParseCard parses the textual card number in the given radix.
func ParseCard(text string, radix int) (model.CardID, error) {
	if radix == 16 {
		text = strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
	}
	id, err := strconv.ParseUint(text, radix, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadCard, text)
	}
	return model.CardID(id), nil
}

// Run feeds every card read from r to sink until ctx is cancelled or the
// reader is exhausted. Unreadable cards are logged and skipped.
func Run(ctx context.Context, r TagReader, sink Sink, session string, zaplog *zap.Logger) error {
	zaplog.Info("card reader started", zap.String("session", session))
	for {
		card, err := r.Read(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrBadCard):
			zaplog.Warn("card read failed", zap.Error(err))
			continue
		case errors.Is(err, io.EOF):
			zaplog.Info("card reader exhausted")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("card reader: %w", err)
		}

		if !sink.OnCardPresented(session, card) {
			zaplog.Warn("card tap not accepted", zap.Stringer("card", card))
			continue
		}
		zaplog.Debug("card presented", zap.Stringer("card", card))
	}
}
