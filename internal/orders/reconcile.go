package orders

import (
	"context"
	"time"

	"github.com/ducminhle1904/crypto-dca-bot/internal/broker"
	"github.com/ducminhle1904/crypto-dca-bot/pkg/types"
)

// Reconcile diffs the store's open positions against the broker's own
// account snapshot and repairs any drift, run once at startup and then
// periodically (§1, §5: the daemon "reconciles its persistent state against
// broker-reported positions"). The broker is always treated as the
// authoritative source for volume and available shares; its cost price is
// taken over only when a drifted position is corrected or an unknown one is
// adopted, not when volume and available already match — it is the system of
// record for what the account actually holds, while the store only mirrors
// it locally for the monitor loop to read cheaply.
func (m *Manager) Reconcile(ctx context.Context) error {
	brokerPositions, err := m.br.QueryPositions(ctx, m.account)
	if err != nil {
		return err
	}
	byStock := make(map[string]broker.AccountPosition, len(brokerPositions))
	for _, bp := range brokerPositions {
		byStock[bp.StockCode] = bp
	}

	storePositions, err := m.store.ListOpenPositions()
	if err != nil {
		return err
	}

	for _, pos := range storePositions {
		bp, ok := byStock[pos.StockCode]
		if !ok {
			// The broker no longer reports this symbol as held: the fill
			// that closed it was never observed, so zero it out here.
			if m.log != nil {
				m.log.Warning("reconcile: %s has volume=%d in store but no broker position, zeroing", pos.StockCode, pos.Volume)
			}
			pos.Volume = 0
			pos.Available = 0
			if err := m.store.UpsertPosition(pos); err != nil {
				return err
			}
			continue
		}
		delete(byStock, pos.StockCode)

		if pos.Volume == bp.Volume && pos.Available == bp.Available {
			continue
		}
		if m.log != nil {
			m.log.Warning("reconcile: %s volume drift store=%d broker=%d, correcting to broker", pos.StockCode, pos.Volume, bp.Volume)
		}
		pos.Volume = bp.Volume
		pos.Available = bp.Available
		if bp.CostPrice > 0 {
			pos.CostPrice = bp.CostPrice
		}
		if err := m.store.UpsertPosition(pos); err != nil {
			return err
		}
	}

	// Whatever is left in byStock is a broker position the store never
	// learned about — an order filled outside this process's lifetime.
	for _, bp := range byStock {
		if bp.Volume <= 0 {
			continue
		}
		if m.log != nil {
			m.log.Warning("reconcile: %s held by broker (volume=%d) but absent from store, adopting", bp.StockCode, bp.Volume)
		}
		if err := m.store.UpsertPosition(&types.Position{
			StockCode: bp.StockCode,
			Volume:    bp.Volume,
			Available: bp.Available,
			CostPrice: bp.CostPrice,
			OpenDate:  time.Now(),
		}); err != nil {
			return err
		}
	}

	return nil
}
