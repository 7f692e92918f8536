// Package broker selects the gateway variant from configuration.
package broker

import (
	"fmt"

	"options_engine/internal/core"
)

// Select returns the gateway for the configured trading mode. LIVE routes
// orders to the broker; PAPER routes orders to the simulator; HYBRID also
// routes orders to the simulator but the caller keeps the live market-data
// feed attached.
func Select(mode core.TradingMode, live core.IBrokerGateway, sim core.IBrokerGateway) (core.IBrokerGateway, error) {
	switch mode {
	case core.ModeLive:
		if live == nil {
			return nil, fmt.Errorf("live gateway not configured")
		}
		return live, nil
	case core.ModePaper, core.ModeHybrid:
		if sim == nil {
			return nil, fmt.Errorf("simulated gateway not configured")
		}
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown trading mode: %s", mode)
	}
}
