package web

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/authdemo/internal/flow"
	httpmiddleware "github.com/wolfeidau/authdemo/internal/http"
	"github.com/wolfeidau/authdemo/internal/models"
	"github.com/wolfeidau/authdemo/internal/telemetry"
)

const recordTimeout = 2 * time.Second

// RecordAuth stores a flow event in the audit log. Recording is best effort: a failure
// is logged and counted, never shown to the user.
func (s *Site) RecordAuth(ctx context.Context, event flow.Event) {
	log := zerolog.Ctx(ctx)

	authEvent, err := models.NewAuthEvent(models.AuthEventKind(event.Kind), event.Outcome)
	if err != nil {
		log.Error().Err(err).Msg("failed to create auth event")
		return
	}

	meta := httpmiddleware.RequestMetaFromContext(ctx)
	authEvent.UserID = event.UserID
	authEvent.Email = event.Email
	authEvent.Detail = event.Detail
	authEvent.IPAddress = meta.ClientIP
	authEvent.UserAgent = meta.UserAgent

	// the user may already have navigated away, the audit entry should still land
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := s.events.Record(ctx, authEvent); err != nil {
		log.Warn().Err(err).Str("kind", event.Kind).Msg("failed to record auth event")
		telemetry.GetMetrics().AuthEventsDroppedTotal.Add(ctx, 1)
	}
}
