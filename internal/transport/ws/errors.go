package ws

import (
	"errors"
	"os"

	"shopkeep.ai/internal/campaign"
	"shopkeep.ai/internal/persistence/snapshot"
	"shopkeep.ai/internal/protocol"
	"shopkeep.ai/internal/sim/budget"
	"shopkeep.ai/internal/sim/cascade"
	"shopkeep.ai/internal/sim/config"
	"shopkeep.ai/internal/sim/kernel"
	"shopkeep.ai/internal/sim/metrics"
	"shopkeep.ai/internal/sim/resolver"
)

// errorCode maps a kernel or session error onto a wire code.
func errorCode(err error) string {
	var (
		be *budget.BudgetError
		me *metrics.MetricError
		ce *cascade.CascadeError
		fe *config.ConfigError
		se *snapshot.SaveError
		le *snapshot.LoadError
	)
	switch {
	case errors.Is(err, campaign.ErrNoCampaign):
		return protocol.ErrNoCampaign
	case errors.Is(err, kernel.ErrTerminal):
		return protocol.ErrTerminal
	case errors.Is(err, kernel.ErrUnknownAction):
		return protocol.ErrUnknownAction
	case errors.Is(err, kernel.ErrActionLocked):
		return protocol.ErrActionLocked
	case errors.Is(err, resolver.ErrQuantity):
		return protocol.ErrBadRequest
	case errors.As(err, &be):
		return protocol.ErrBudgetExhausted
	case errors.As(err, &le):
		return protocol.ErrLoad
	case errors.As(err, &se):
		return protocol.ErrSave
	case errors.As(err, &fe):
		return protocol.ErrConfig
	case errors.As(err, &ce):
		return protocol.ErrCascade
	case errors.As(err, &me):
		return protocol.ErrMetric
	case errors.Is(err, snapshot.ErrCampaignID):
		return protocol.ErrBadRequest
	case errors.Is(err, os.ErrNotExist):
		return protocol.ErrNotFound
	}
	return protocol.ErrInternal
}
