package identity

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/iurnickita/cardterminal/internal/circuit"
	"github.com/iurnickita/cardterminal/internal/identity/directoryclient"
	"github.com/iurnickita/cardterminal/internal/model"
)

// DirectoryFinder asks the remote user directory. While its breaker is open
// it answers ErrUnavailable without touching the network.
type DirectoryFinder struct {
	client  directoryclient.DirectoryClient
	breaker *circuit.Breaker
	zaplog  *zap.Logger
}

func NewDirectoryFinder(client directoryclient.DirectoryClient, breaker *circuit.Breaker, zaplog *zap.Logger) *DirectoryFinder {
	return &DirectoryFinder{
		client:  client,
		breaker: breaker,
		zaplog:  zaplog,
	}
}

func (f *DirectoryFinder) Name() string {
	return "directory"
}

func (f *DirectoryFinder) Search(ctx context.Context, card model.CardID) (model.Identity, error) {
	if !f.breaker.Allow() {
		return model.Identity{}, errors.Wrap(ErrUnavailable, "directory finder: circuit open")
	}

	answer, err := f.client.GetIdentity(ctx, uint64(card))
	if err != nil {
		if errors.Is(err, directoryclient.ErrNotFound) {
			f.recordSuccess()
			return model.Identity{}, ErrNotFound
		}
		if _, change := f.breaker.RecordFailure(); change.Opened {
			f.zaplog.Warn("directory circuit opened", zap.Error(err))
		}
		return model.Identity{}, errors.Wrapf(err, "directory finder: card %s", card)
	}

	f.recordSuccess()
	return model.Identity{Key: answer.Key, Name: answer.Name}, nil
}

func (f *DirectoryFinder) recordSuccess() {
	if _, change := f.breaker.RecordSuccess(); change.Closed {
		f.zaplog.Info("directory circuit closed")
	}
}
