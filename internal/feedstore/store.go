// Package feedstore provides the transports the release feed is read
// from and published to. The update checker only fetches; producer
// tooling also writes the updated document back.
package feedstore

import "context"

// Store retrieves the raw feed document.
type Store interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Publisher is implemented by stores that can also write the feed back,
// used by the feed-update operation on the producer side.
type Publisher interface {
	Store
	Put(ctx context.Context, data []byte) error
}

// Static serves a fixed document. Used to inject mocked feeds in tests
// and demo builds.
type Static struct {
	Data []byte
	Err  error
}

// Fetch returns the configured document or error.
func (s Static) Fetch(context.Context) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Data, nil
}
