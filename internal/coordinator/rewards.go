package coordinator

import (
	"sort"

	"github.com/runeforge/server/internal/db"
	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
	"github.com/runeforge/server/internal/registry"
	"github.com/runeforge/server/internal/sim"
)

// Reward constants: everyone who played gets the base, kills pay per head,
// and a cleared dungeon pays the victory bonus on top.
const (
	rewardBaseXP    = 50
	rewardKillXP    = 25
	rewardVictoryXP = 100
)

// computeRewards settles the end-of-game payout: XP from participation,
// kills and victory, plus an even split of the party's collected gold and
// silver. Spectators earn nothing. Runs on the room goroutine.
func (c *Coordinator) computeRewards(st *registry.State, outcome sim.CombatPhase) ([]protocol.PlayerReward, []db.RewardGrant) {
	type earner struct {
		seat *registry.Seat
		unit *sim.Unit
	}
	var earners []earner
	for _, seat := range st.Seats {
		if seat.Player.UnitID == "" || seat.Player.Status == model.PlayerSpectating {
			continue
		}
		var unit *sim.Unit
		if st.Game != nil {
			unit = st.Game.Unit(seat.Player.UnitID)
		}
		earners = append(earners, earner{seat: seat, unit: unit})
	}
	if len(earners) == 0 {
		return nil, nil
	}
	sort.Slice(earners, func(i, j int) bool {
		return earners[i].seat.Player.UnitID < earners[j].seat.Player.UnitID
	})

	var gold, silver int
	if st.Game != nil {
		gold = st.Game.PlayerInventory.Gold
		silver = st.Game.PlayerInventory.Silver
	}
	goldShare, goldRem := gold/len(earners), gold%len(earners)
	silverShare, silverRem := silver/len(earners), silver%len(earners)

	rewards := make([]protocol.PlayerReward, 0, len(earners))
	grants := make([]db.RewardGrant, 0, len(earners))
	for i, e := range earners {
		unitID := e.seat.Player.UnitID
		kills := st.Kills[unitID]

		xp := rewardBaseXP + kills*rewardKillXP
		if outcome == sim.PhaseVictory {
			xp += rewardVictoryXP
		}
		g, s := goldShare, silverShare
		// Remainders go to the earliest units in id order.
		if i < goldRem {
			g++
		}
		if i < silverRem {
			s++
		}

		deaths := 0
		if e.unit != nil && !e.unit.Alive() {
			deaths = 1
		}
		rewards = append(rewards, protocol.PlayerReward{
			UserID:      e.seat.Player.UserID,
			CharacterID: e.seat.Player.CharacterID,
			XP:          xp,
			Gold:        g,
			Silver:      s,
			Kills:       kills,
		})
		grants = append(grants, db.RewardGrant{
			CharacterID: e.seat.Player.CharacterID,
			Delta: db.RewardDelta{
				XP:             xp,
				Gold:           g,
				Silver:         s,
				GamesPlayed:    1,
				MonstersKilled: kills,
				DamageDealt:    st.DamageDealt[unitID],
				DamageTaken:    st.DamageTaken[unitID],
				Deaths:         deaths,
			},
		})
	}
	return rewards, grants
}
