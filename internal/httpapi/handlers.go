package httpapi

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// StatusProvider is the read-only status surface the debug API renders.
// A *dispatcher.Dispatcher satisfies this via its Status method.
type StatusProvider interface {
	Status() Status
}

// Status mirrors dispatcher.Status without importing internal/dispatcher,
// keeping this package a leaf the rest of the tree can depend on freely.
type Status struct {
	State             string
	BandwidthEstimate float64
	CurrentVariant    string
	WantedPosition    float64
	SelectorPositions map[string]float64
}

// EventLister is the read-only diagnostics surface the debug API renders.
// A *storage.EventRepository satisfies this via its Recent method.
type EventLister interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]Event, error)
}

// Event mirrors the fields of storage.PlaybackEvent that are worth
// exposing over the debug API.
type Event struct {
	ID         string
	SessionID  string
	Kind       string
	OccurredAt time.Time
	Detail     string
	Position   float64
}

// VariantLister is the read-only variant listing the debug API renders.
// A *dispatcher.Dispatcher satisfies this via its Variants method.
type VariantLister interface {
	Variants() []Variant
}

// Variant mirrors the fields of parser.Variant worth exposing over the
// debug API.
type Variant struct {
	StableID     string   `json:"stable_id"`
	Bandwidth    uint64   `json:"bandwidth"`
	Codecs       []string `json:"codecs,omitempty"`
	Width        int      `json:"width,omitempty"`
	Height       int      `json:"height,omitempty"`
	FrameRate    float64  `json:"frame_rate,omitempty"`
	HDRRange     string   `json:"hdr_range,omitempty"`
	AudioGroupID string   `json:"audio_group_id,omitempty"`
	Score        float64  `json:"score"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Liveness probe",
		Description: "Always returns ok if the process is up and serving requests",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*struct{ Body healthResponse }, error) {
		return &struct{ Body healthResponse }{Body: healthResponse{Status: "ok"}}, nil
	})
}

type healthResponse struct {
	Status string `json:"status" doc:"Always \"ok\" when reachable"`
}

func registerStatus(api huma.API, status StatusProvider) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/status",
		Summary:     "Current playback status",
		Description: "Point-in-time snapshot of dispatcher state, bandwidth estimate and per-track-type buffer position",
		Tags:        []string{"Playback"},
	}, func(ctx context.Context, input *struct{}) (*struct{ Body Status }, error) {
		if status == nil {
			return &struct{ Body Status }{}, nil
		}
		return &struct{ Body Status }{Body: status.Status()}, nil
	})
}

type variantsOutput struct {
	Body struct {
		Variants []Variant `json:"variants"`
	}
}

func registerVariants(api huma.API, variants VariantLister) {
	huma.Register(api, huma.Operation{
		OperationID: "listVariants",
		Method:      "GET",
		Path:        "/variants",
		Summary:     "Multivariant Playlist variants",
		Description: "Every variant declared by the currently loaded Multivariant Playlist, sorted by score then bandwidth, ascending",
		Tags:        []string{"Playback"},
	}, func(ctx context.Context, input *struct{}) (*variantsOutput, error) {
		out := &variantsOutput{}
		if variants == nil {
			return out, nil
		}
		out.Body.Variants = variants.Variants()
		return out, nil
	})
}

type eventsInput struct {
	SessionID string `query:"session_id" doc:"Playback session to scope events to"`
	Limit     int    `query:"limit" doc:"Maximum number of events to return" default:"50"`
}

type eventsOutput struct {
	Body struct {
		Events []Event `json:"events"`
	}
}

func registerEvents(api huma.API, events EventLister) {
	huma.Register(api, huma.Operation{
		OperationID: "listEvents",
		Method:      "GET",
		Path:        "/events",
		Summary:     "Recent diagnostics events",
		Description: "Most recent playback diagnostics events for a session, newest first",
		Tags:        []string{"Playback"},
	}, func(ctx context.Context, input *eventsInput) (*eventsOutput, error) {
		out := &eventsOutput{}
		if events == nil {
			return out, nil
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		list, err := events.Recent(ctx, input.SessionID, limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("listing events", err)
		}
		out.Body.Events = list
		return out, nil
	})
}
