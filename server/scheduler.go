package server

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironstar-game/ironstar/game"
	"github.com/ironstar-game/ironstar/locks"
)

// Scheduler drives every active battle forward on a periodic tick: ready
// weapons fire, participants get notified, finished battles resolve with
// end stats, XP and a loser teleport.
type Scheduler struct {
	locks    *locks.Manager
	battles  *BattleCache
	users    *UserCache
	world    *WorldCache
	messages *MessageCache
	clock    TimeProvider
	log      zerolog.Logger
	cfg      Config
	rng      *rand.Rand

	stop chan struct{}
	done chan struct{}
}

// NewScheduler wires the scheduler to the caches it drives.
func NewScheduler(m *locks.Manager, battles *BattleCache, users *UserCache, world *WorldCache, messages *MessageCache, clock TimeProvider, cfg Config, log zerolog.Logger, rng *rand.Rand) *Scheduler {
	return &Scheduler{
		locks:    m,
		battles:  battles,
		users:    users,
		world:    world,
		messages: messages,
		clock:    clock,
		log:      log.With().Str("component", "scheduler").Logger(),
		cfg:      cfg,
		rng:      rng,
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the loop, waiting for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

// Tick processes every active battle once. Per-battle errors are logged
// and do not stop the remaining battles.
func (s *Scheduler) Tick(ctx context.Context) {
	active, err := s.battles.GetActive(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("active snapshot failed")
		return
	}
	for _, b := range active {
		if err := s.runBattle(ctx, b.ID); err != nil {
			s.log.Error().Err(err).Int64("battle", b.ID).Msg("battle tick failed")
		}
	}
}

// runBattle fires every ready weapon on both sides (attacker first) and
// resolves the battle if a hull is gone. One BATTLE section covers the
// whole engagement so handlers cannot interleave.
func (s *Scheduler) runBattle(ctx context.Context, battleID int64) error {
	return withLock(ctx, s.locks, locks.Battle, func(ctx context.Context) error {
		b, err := s.battles.LoadIfNeeded(ctx, battleID)
		if err != nil {
			return err
		}
		if !b.Active() {
			return nil
		}
		attacker, err := s.users.GetByID(ctx, b.AttackerID)
		if err != nil {
			return err
		}
		attackee, err := s.users.GetByID(ctx, b.AttackeeID)
		if err != nil {
			return err
		}

		now := s.clock.Now().Unix()
		for i := 0; i < s.cfg.BattleMaxIterations; i++ {
			if game.IsOver(attacker, attackee) {
				break
			}
			var result *game.TurnResult
			err := withLock(ctx, s.locks, locks.User, func(context.Context) error {
				var err error
				result, err = game.ExecuteTurn(b, attacker, attackee, now)
				return err
			})
			if err != nil {
				s.log.Warn().Err(err).Int64("battle", b.ID).Msg("shot skipped")
				break
			}
			if result == nil {
				break
			}
			if err := s.battles.MarkDirty(ctx, b.ID); err != nil {
				return err
			}
			defenderID := b.ParticipantID(result.Side.Opposite())
			if err := s.users.MarkDirty(ctx, defenderID); err != nil {
				return err
			}
			s.notifyShot(ctx, b, attacker, attackee, result)
		}

		if winnerID, loserID, over := game.Outcome(b, attacker, attackee); over {
			return s.resolveBattle(ctx, b, attacker, attackee, winnerID, loserID)
		}
		return nil
	})
}

// notifyShot sends the per-shot messages: positive to the shooter,
// negative to the defender, both carrying the defender's remaining layers.
func (s *Scheduler) notifyShot(ctx context.Context, b *game.Battle, attacker, attackee *game.User, result *game.TurnResult) {
	shooter, defender := attacker, attackee
	if result.Side == game.SideAttackee {
		shooter, defender = attackee, attacker
	}
	r := result.Report
	total := r.ShieldDamage + r.ArmorDamage + r.HullDamage

	shooterText := fmt.Sprintf(
		"P: You fired %d %s at %s for %d damage. Enemy hull %d, armor %d, shield %d.",
		result.Hits, result.WeaponKey, defender.Username, total,
		r.HullRemaining, r.ArmorRemaining, r.ShieldRemaining)
	defenderText := fmt.Sprintf(
		"N: %s fired %d %s at you for %d damage. Your hull %d, armor %d, shield %d.",
		shooter.Username, result.Hits, result.WeaponKey, total,
		r.HullRemaining, r.ArmorRemaining, r.ShieldRemaining)

	if _, err := s.messages.Create(ctx, shooter.ID, shooterText); err != nil {
		s.log.Warn().Err(err).Int64("user", shooter.ID).Msg("shot notification failed")
	}
	if _, err := s.messages.Create(ctx, defender.ID, defenderText); err != nil {
		s.log.Warn().Err(err).Int64("user", defender.ID).Msg("shot notification failed")
	}
}

// resolveBattle ends the engagement: end stats snapshot, battle_ended
// event, synchronous battle flush, participant cleanup, loser teleport,
// XP award and the victory/defeat messages.
func (s *Scheduler) resolveBattle(ctx context.Context, b *game.Battle, attacker, attackee *game.User, winnerID, loserID int64) error {
	now := s.clock.Now().Unix()

	// Weapons carry over from the start snapshot; layers come from the
	// live users.
	endAttacker := game.SnapshotStats(attacker)
	endAttacker.Weapons = b.AttackerStartStats.Weapons
	endAttackee := game.SnapshotStats(attackee)
	endAttackee.Weapons = b.AttackeeStartStats.Weapons

	err := s.battles.AddEvent(ctx, b.ID, game.BattleEvent{
		Timestamp: now,
		Type:      game.EventBattleEnded,
		Data:      map[string]any{"winner": winnerID, "loser": loserID},
	})
	if err != nil {
		return err
	}
	if err := s.battles.End(ctx, b.ID, winnerID, loserID, endAttacker, endAttackee); err != nil {
		return err
	}

	for _, id := range []int64{attacker.ID, attackee.ID} {
		err := s.users.Apply(ctx, id, func(u *game.User) error {
			u.InBattle = false
			u.CurrentBattleID = 0
			return nil
		})
		if err != nil {
			return err
		}
	}

	winner, loser := attacker, attackee
	if winnerID == attackee.ID {
		winner, loser = attackee, attacker
	}

	s.teleportLoser(ctx, winner, loser)

	award := int64(100 + 10*loser.Level())
	if _, err := s.users.AwardXP(ctx, winnerID, award); err != nil {
		s.log.Warn().Err(err).Int64("user", winnerID).Msg("xp award failed")
	}

	victory := fmt.Sprintf("P: You defeated %s! +%d XP.", loser.Username, award)
	defeat := fmt.Sprintf("N: You were defeated by %s. Your ship was thrown clear of the battle.", winner.Username)
	if _, err := s.messages.Create(ctx, winnerID, victory); err != nil {
		s.log.Warn().Err(err).Int64("user", winnerID).Msg("victory notification failed")
	}
	if _, err := s.messages.Create(ctx, loserID, defeat); err != nil {
		s.log.Warn().Err(err).Int64("user", loserID).Msg("defeat notification failed")
	}
	return nil
}

// teleportLoser drops the loser's ship far from the winner and stops it.
// Ship problems only log: the battle outcome is already committed.
func (s *Scheduler) teleportLoser(ctx context.Context, winner, loser *game.User) {
	for _, u := range []*game.User{winner, loser} {
		if u.ShipID == 0 {
			continue
		}
		if err := s.world.SetShipInBattle(ctx, u.ShipID, false); err != nil {
			s.log.Warn().Err(err).Int64("ship", u.ShipID).Msg("unpin failed")
		}
	}
	if winner.ShipID == 0 || loser.ShipID == 0 {
		return
	}
	wx, wy, err := s.world.ShipPosition(ctx, winner.ShipID)
	if err != nil {
		s.log.Warn().Err(err).Int64("ship", winner.ShipID).Msg("winner ship lookup failed")
		return
	}
	x, y := teleportPoint(s.rng, wx, wy, s.cfg.WorldWidth, s.cfg.WorldHeight, s.cfg.teleportMinDistance())
	if err := s.world.PlaceShip(ctx, loser.ShipID, x, y, 0); err != nil {
		s.log.Warn().Err(err).Int64("ship", loser.ShipID).Msg("teleport failed")
	}
}

// teleportPoint rejection-samples a point at least minDist from (wx, wy)
// in toroidal distance. After 100 misses it falls back to the opposite
// point, which is the farthest possible.
func teleportPoint(rng *rand.Rand, wx, wy, width, height, minDist float64) (float64, float64) {
	for i := 0; i < 100; i++ {
		x := rng.Float64() * width
		y := rng.Float64() * height
		if game.ToroidalDistance(x, y, wx, wy, width, height) >= minDist {
			return x, y
		}
	}
	return game.Wrap(wx+width/2, width), game.Wrap(wy+height/2, height)
}
