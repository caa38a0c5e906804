package http

import (
	"net/http"
	"time"

	"github.com/741g/vperfetto/internal/application/merge"
	"github.com/741g/vperfetto/internal/application/session"
	jwtinfra "github.com/741g/vperfetto/internal/infrastructure/jwt"
)

// MetricsSink is what the router needs from the metrics registry.
type MetricsSink interface {
	Handler() http.Handler
	RecordGuestSample(outcome string)
}

// Deps holds the services and infrastructure the router wires together.
type Deps struct {
	Session     session.Service
	Merge       merge.Service
	JWTProvider *jwtinfra.Provider // nil disables auth
	Metrics     MetricsSink        // optional
	PresignTTL  time.Duration
}
