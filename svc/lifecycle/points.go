package lifecycle

import (
	"context"

	"github.com/trailpost/billing/pkg/catalog"
	"github.com/trailpost/billing/pkg/logger"
	"github.com/trailpost/billing/pkg/metrics"
)

// Awarder reports earned points to the gamification service.
type Awarder interface {
	AwardPoints(ctx context.Context, userID string, points int, reason string) error
}

// AwarderFunc adapts a function to Awarder.
type AwarderFunc func(ctx context.Context, userID string, points int, reason string) error

func (f AwarderFunc) AwardPoints(ctx context.Context, userID string, points int, reason string) error {
	return f(ctx, userID, points, reason)
}

type noopAwarder struct{}

func (noopAwarder) AwardPoints(context.Context, string, int, string) error { return nil }

// Points per level gained by an upgrade.
const upgradePointsPerLevel = 500

// CreationPoints returns the points for subscribing to p.
func CreationPoints(p catalog.Plan) int {
	switch p {
	case catalog.PlanBasic:
		return 1000
	case catalog.PlanPremium:
		return 2500
	case catalog.PlanEnterprise:
		return 5000
	}
	return 0
}

// UpgradePoints returns the points for moving from one plan to a higher one.
func UpgradePoints(from, to catalog.Plan) int {
	return max(to.Level()-from.Level(), 0) * upgradePointsPerLevel
}

// award reports points in the background. Failures are logged and never
// undo the subscription change. Wait blocks until all awards finished.
func (m *Manager) award(ctx context.Context, userID string, points int, reason string) {
	if points <= 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	m.awards.Add(1)
	go func() {
		defer m.awards.Done()

		actx, cancel := context.WithTimeout(ctx, m.cfg.AwardTimeout)
		defer cancel()

		if err := m.awarder.AwardPoints(actx, userID, points, reason); err != nil {
			m.metrics.ObserveAward(metrics.ResultError)
			m.logger.WarnContext(actx, "failed to award points",
				logger.UserID(userID),
				logger.Points(points),
				logger.Error(err),
			)
			return
		}
		m.metrics.ObserveAward(metrics.ResultOK)
		m.logger.DebugContext(actx, "points awarded",
			logger.UserID(userID),
			logger.Points(points),
		)
	}()
}

// Wait blocks until every background points award has finished.
func (m *Manager) Wait() {
	m.awards.Wait()
}
