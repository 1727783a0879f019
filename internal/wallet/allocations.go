package wallet

import (
	"sort"

	"github.com/rgbnetwork/rgb-wallet/internal/config"
	"github.com/rgbnetwork/rgb-wallet/internal/db"
	"github.com/rgbnetwork/rgb-wallet/internal/types"
)

// getAvailableAllocations filters the colorable unspents that can take at
// least one more allocation. maxAllocations defaults to the configured
// per-utxo capacity minus one, leaving a slot for a change or receive
// allocation on top of existing ones.
func getAvailableAllocations(unspents []db.LocalUnspent, exclude map[string]bool, maxAllocations *uint32) []db.LocalUnspent {
	maxAllocs := config.AppConfig.MaxAllocationsPerUtxo - 1
	if maxAllocations != nil {
		maxAllocs = *maxAllocations
	}
	var available []db.LocalUnspent
	for _, u := range unspents {
		if !u.Utxo.Exists || exclude[u.Outpoint().String()] {
			continue
		}
		allocatable := true
		var count uint32
		for _, a := range u.RgbAllocations {
			if db.StatusFailed(a.Status) {
				continue
			}
			if !a.Incoming && db.StatusPending(a.Status) {
				allocatable = false
				break
			}
			count++
		}
		if allocatable && count <= maxAllocs {
			u := u
			u.RgbAllocations = keepUnfailed(u.RgbAllocations)
			available = append(available, u)
		}
	}
	return available
}

func keepUnfailed(allocations []db.RgbAllocation) []db.RgbAllocation {
	kept := make([]db.RgbAllocation, 0, len(allocations))
	for _, a := range allocations {
		if !db.StatusFailed(a.Status) {
			kept = append(kept, a)
		}
	}
	return kept
}

// getUtxo picks the best utxo for a new allocation. Candidates are ordered
// by allocation count so allocations spread evenly; an empty candidate wins
// outright. Among occupied candidates, callers with a pending operation
// prefer utxos already carrying future allocations, others avoid them.
func (w *Wallet) getUtxo(exclude map[string]bool, unspents []db.LocalUnspent, pendingOperation bool) (db.Txo, error) {
	if unspents == nil {
		var err error
		unspents, err = w.localUnspents()
		if err != nil {
			return db.Txo{}, err
		}
	}
	var colorable []db.LocalUnspent
	for _, u := range unspents {
		if u.Utxo.Colorable {
			colorable = append(colorable, u)
		}
	}
	available := getAvailableAllocations(colorable, exclude, nil)
	if len(available) == 0 {
		return db.Txo{}, w.detectBtcUnspendableErr(unspents)
	}
	sort.SliceStable(available, func(i, j int) bool {
		return len(available[i].RgbAllocations) < len(available[j].RgbAllocations)
	})
	selected := available[0]
	if len(available) > 1 && len(selected.RgbAllocations) > 0 {
		for _, u := range available {
			hasFuture := false
			for _, a := range u.RgbAllocations {
				if a.Future() {
					hasFuture = true
					break
				}
			}
			if hasFuture == pendingOperation {
				selected = u
				break
			}
		}
	}
	return selected.Utxo, nil
}

// detectBtcUnspendableErr distinguishes a wallet that simply has no
// bitcoins from one whose bitcoins are all tied up in full utxos.
func (w *Wallet) detectBtcUnspendableErr(unspents []db.LocalUnspent) error {
	var availableSat uint64
	for _, u := range unspents {
		if !u.Utxo.Colorable || len(u.RgbAllocations) == 0 {
			availableSat += u.Utxo.BtcAmount
		}
	}
	if availableSat < minBtcRequired {
		return &types.InsufficientBitcoinsError{
			Needed:    minBtcRequired,
			Available: availableSat,
		}
	}
	return types.ErrInsufficientAllocationSlots
}
