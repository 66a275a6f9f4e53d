package copilot

import (
	"context"
	"crypto/subtle"
	"time"

	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/metrics"
)

const DefaultBatchSize = 50

// ReindexReport summarises one pass over all bots.
type ReindexReport struct {
	Bots     int           `json:"bots"`
	Indexed  int           `json:"indexed_endpoints"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"-"`
}

// ReindexAll rebuilds the summaries of every bot with a swagger, walking
// bots in batches. Per-bot failures are logged and counted; only a
// failure to list bots or a cancelled context ends the pass early.
func (s *Service) ReindexAll(ctx context.Context, batchSize int) (ReindexReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()
	var rep ReindexReport
	for offset := 0; ; offset += batchSize {
		if err := ctx.Err(); err != nil {
			metrics.ReindexRuns.WithLabelValues("cancelled").Inc()
			return rep, err
		}
		bots, err := s.bots.Batch(ctx, offset, batchSize)
		if err != nil {
			metrics.ReindexRuns.WithLabelValues("error").Inc()
			return rep, err
		}
		for _, bot := range bots {
			if bot.SwaggerURL == "" {
				continue
			}
			rep.Bots++
			n, err := s.reindexBot(ctx, bot)
			if err != nil {
				rep.Failed++
				s.logger.Warn().Err(err).Str(xlog.FieldBotID, bot.ID).Str(xlog.FieldIncident, "reindex").Msg("reindex failed")
				continue
			}
			rep.Indexed += n
			metrics.ReindexedBots.Inc()
		}
		if len(bots) < batchSize {
			break
		}
	}
	rep.Duration = time.Since(start)
	metrics.ReindexRuns.WithLabelValues("ok").Inc()
	s.logger.Info().
		Int("bots", rep.Bots).
		Int("indexed", rep.Indexed).
		Int("failed", rep.Failed).
		Dur(xlog.FieldDuration, rep.Duration).
		Msg("reindex complete")
	return rep, nil
}

// CheckReindexAuth guards the manual reindex trigger. An unset secret
// disables the route.
func CheckReindexAuth(secret, authorization string) error {
	if secret == "" {
		return ErrReindexDisabled
	}
	if subtle.ConstantTimeCompare([]byte(authorization), []byte("Bearer "+secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
