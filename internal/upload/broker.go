// Package upload issues short-lived grants that let a participant write an
// attachment straight to object storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"supportchat/api/internal/attachment"
	"supportchat/api/internal/identity"
	"supportchat/api/internal/metrics"
	"supportchat/api/internal/storage"
)

const DefaultTTL = 5 * time.Minute

var (
	ErrUnauthenticated = errors.New("upload grant requires an identity")
	ErrInvalidRequest  = errors.New("invalid upload request")
	ErrUpstream        = errors.New("object storage unavailable")
)

// Grant is returned to the client and never persisted.
type Grant struct {
	WriteURL  string    `json:"writeUrl"`
	PublicURL string    `json:"publicUrl"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Request struct {
	Filename  string
	MediaType string
	// Size is the declared byte count; negative when the caller did not say.
	Size int64
}

type Broker struct {
	presigner storage.Presigner
	ttl       time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

func NewBroker(presigner storage.Presigner, ttl time.Duration, log zerolog.Logger) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Broker{
		presigner: presigner,
		ttl:       ttl,
		now:       time.Now,
		log:       log.With().Str("component", "upload-broker").Logger(),
	}
}

// Grant validates the request and presigns a single PUT under
// uploads/{participant}/{unixMillis}.{ext}.
func (b *Broker) Grant(ctx context.Context, who identity.Participant, req Request) (Grant, error) {
	if who == nil {
		metrics.RecordGrant("unauthenticated")
		return Grant{}, ErrUnauthenticated
	}
	filename := strings.TrimSpace(req.Filename)
	mediaType := strings.TrimSpace(req.MediaType)
	if err := attachment.Validate(filename, mediaType, req.Size); err != nil {
		metrics.RecordGrant("invalid")
		return Grant{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := b.now()
	key := ObjectKey(who.ParticipantID(), now, attachment.Extension(filename, mediaType))

	started := time.Now()
	writeURL, err := b.presigner.PresignPut(ctx, key, mediaType, b.ttl)
	metrics.RecordPresign(time.Since(started).Seconds())
	if err != nil {
		metrics.RecordGrant("upstream_error")
		b.log.Error().Err(err).Str("key", key).Msg("presign failed")
		return Grant{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	metrics.RecordGrant("issued")
	b.log.Debug().Str("key", key).Str("participant", who.ParticipantID()).Msg("upload grant issued")
	return Grant{
		WriteURL:  writeURL.String(),
		PublicURL: b.presigner.PublicURL(key),
		Key:       key,
		ExpiresAt: now.Add(b.ttl).UTC(),
	}, nil
}

// ObjectKey places every upload under its owner's prefix. Two grants for the
// same owner in the same millisecond share a key; the later write wins.
func ObjectKey(ownerID string, at time.Time, ext string) string {
	return fmt.Sprintf("uploads/%s/%d.%s", ownerID, at.UnixMilli(), ext)
}
