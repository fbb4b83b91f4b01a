package reader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/model"
	"github.com/iurnickita/cardterminal/internal/reader/config"
)

type recordSink struct {
	mu     sync.Mutex
	cards  []model.CardID
	reject bool
}

func (s *recordSink) OnCardPresented(session string, card model.CardID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, card)
	return !s.reject
}

func TestParseCard(t *testing.T) {
	tests := []struct {
		text  string
		radix int
		want  model.CardID
		ok    bool
	}{
		{"40021", 10, 40021, true},
		{"4294967295", 10, 4294967295, true},
		{"ff", 16, 255, true},
		{"0x9C40", 16, 40000, true},
		{"ff", 10, 0, false},
		{"-1", 10, 0, false},
		{"", 10, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseCard(tt.text, tt.radix)
			if !tt.ok {
				require.ErrorIs(t, err, ErrBadCard)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunFeedsSink(t *testing.T) {
	input := "40021\n\n  12 \nnot-a-card\n7\n"
	r := NewLineReader(strings.NewReader(input), nil, 10)
	defer r.Close()
	sink := &recordSink{}

	err := Run(context.Background(), r, sink, "kiosk", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []model.CardID{40021, 12, 7}, sink.cards)
}

func TestRunContinuesWhenTapRejected(t *testing.T) {
	r := NewLineReader(strings.NewReader("1\n2\n"), nil, 10)
	sink := &recordSink{reject: true}

	require.NoError(t, Run(context.Background(), r, sink, "kiosk", zap.NewNop()))
	assert.Len(t, sink.cards, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewLineReader(pr, pr, 10)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, r, &recordSink{}, "kiosk", zap.NewNop())
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader loop ignored cancellation")
	}
}

func TestNewDeviceReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reader")
	require.NoError(t, os.WriteFile(path, []byte("9c40\n"), 0o600))

	r, err := New(config.Config{Type: config.TypeDevice, Device: path, Radix: 16}, nil)
	require.NoError(t, err)
	defer r.Close()

	card, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.CardID(40000), card)

	_, err = r.Read(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(config.Config{Type: "wiegand"}, nil)
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = New(config.Config{Type: config.TypeDevice, Device: filepath.Join(t.TempDir(), "missing")}, nil)
	require.Error(t, err)
}
