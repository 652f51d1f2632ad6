package fetchcache

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/robert-malhotra/changewatch/internal/raster"
)

const keyPrefix = "changewatch:raster:"

// Valkey is a Store shared between instances. Writes use SET NX so the first
// raster written for a key wins.
type Valkey struct {
	client valkey.Client
	ttl    time.Duration
}

// NewValkey connects to a Valkey (Redis-compatible) server.
func NewValkey(addr string, ttl time.Duration) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return NewValkeyWithClient(client, ttl), nil
}

// NewValkeyWithClient wraps an existing client.
func NewValkeyWithClient(client valkey.Client, ttl time.Duration) *Valkey {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Valkey{client: client, ttl: ttl}
}

// Get retrieves a raster by key.
func (v *Valkey) Get(ctx context.Context, key string) (*raster.Image, bool, error) {
	data, err := v.client.Do(ctx, v.client.B().Get().Key(keyPrefix+key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("valkey get: %w", err)
	}

	img := new(raster.Image)
	if err := img.UnmarshalBinary(data); err != nil {
		return nil, false, fmt.Errorf("valkey get %s: %w", key, err)
	}
	return img, true, nil
}

// PutIfAbsent stores img with SET NX EX.
func (v *Valkey) PutIfAbsent(ctx context.Context, key string, img *raster.Image) (bool, error) {
	data, err := img.MarshalBinary()
	if err != nil {
		return false, err
	}

	cmd := v.client.B().Set().Key(keyPrefix + key).Value(valkey.BinaryString(data)).
		Nx().ExSeconds(int64(v.ttl / time.Second)).Build()
	err = v.client.Do(ctx, cmd).Error()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("valkey set: %w", err)
	}
	return true, nil
}

// Close releases the client.
func (v *Valkey) Close() error {
	v.client.Close()
	return nil
}
