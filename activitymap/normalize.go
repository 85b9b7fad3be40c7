// Package activitymap flattens market.ActivityEvent into the record shape
// published to downstream consumers.
package activitymap

import (
	"strings"
	"time"

	market "github.com/goliatone/go-market"
)

const (
	// MetadataKeyActorType stores the actor type derived from market.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyActorRole stores the role the actor held when acting.
	MetadataKeyActorRole = "actor_role"
	// MetadataKeyFromStatus stores the source product status for moderation transitions.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the target product status for moderation transitions.
	MetadataKeyToStatus = "to_status"
)

const (
	ObjectTypeUser    = "user"
	ObjectTypeProduct = "product"

	defaultActorID = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	actorFallback    string
	objectIDResolver func(market.ActivityEvent) (string, string)
	now              func() time.Time
}

// Normalize converts a market.ActivityEvent into a generic normalized shape.
// The channel defaults to the event type prefix, so "product.created" is
// reported on the "product" channel.
func Normalize(event market.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.UserID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType, objectID := resolveObject(event, options.objectIDResolver)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	channel := options.channel
	if channel == "" {
		channel = ChannelOf(event.EventType)
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// ChannelOf returns the leading segment of an event type
func ChannelOf(eventType market.ActivityEventType) string {
	verb := strings.TrimSpace(string(eventType))
	if i := strings.IndexByte(verb, '.'); i > 0 {
		return verb[:i]
	}
	return verb
}

// WithChannel forces the channel for every normalized record.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectResolver overrides object type and id extraction.
func WithObjectResolver(resolver func(market.ActivityEvent) (objectType, objectID string)) Option {
	return func(opts *normalizeOptions) {
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the final actor-id fallback when actor/user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the clock used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		actorFallback: defaultActorID,
		now:           time.Now,
	}
}

func resolveObject(event market.ActivityEvent, resolver func(market.ActivityEvent) (string, string)) (string, string) {
	if resolver != nil {
		objectType, objectID := resolver(event)
		return strings.TrimSpace(objectType), strings.TrimSpace(objectID)
	}
	if id := strings.TrimSpace(event.ProductID); id != "" {
		return ObjectTypeProduct, id
	}
	return ObjectTypeUser, strings.TrimSpace(event.UserID)
}

func normalizeMetadata(event market.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	set := func(key, value string, overwrite bool) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; exists && !overwrite {
			return
		}
		metadata[key] = value
	}

	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type), false)
	set(MetadataKeyActorRole, strings.TrimSpace(string(event.Actor.Role)), false)
	set(MetadataKeyFromStatus, string(event.FromStatus), true)
	set(MetadataKeyToStatus, string(event.ToStatus), true)

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
