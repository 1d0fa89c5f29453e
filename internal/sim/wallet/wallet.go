// Package wallet is the non-custodial wallet facade. Every chain call is a
// stub: the response is fabricated locally and delivered through a deferred
// task with an explicit due tick, never an ambient timer. The real RPC
// surface is out of scope for this core.
package wallet

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"soulvan.game/internal/protocol"
)

var ErrLocked = errors.New("wallet locked")

// Scheduler defers a callback by delayTicks on the session loop. The
// callback runs on the session goroutine with the then-current tick.
type Scheduler interface {
	After(delayTicks int, fn func(tick uint64))
}

// Config holds the simulated confirmation latencies, in ticks.
type Config struct {
	UnlockTicks int
	QueryTicks  int
	SendTicks   int
	MintTicks   int
	VoteTicks   int
}

// Wallet owns the cached chain state for one player. Session goroutine
// only; no locking.
type Wallet struct {
	cfg   Config
	sched Scheduler
	log   *log.Logger

	Events Events

	address  string
	unlocked bool

	balances  protocol.BalanceState
	nfts      []protocol.NftData
	proposals []protocol.ProposalData
	chronicle []protocol.ChronicleItem

	pendingRewards []string
	txSeq          uint64
}

func New(cfg Config, sched Scheduler, logger *log.Logger) *Wallet {
	if logger == nil {
		logger = log.Default()
	}
	return &Wallet{cfg: cfg, sched: sched, log: logger}
}

func (w *Wallet) Address() string { return w.address }
func (w *Wallet) Unlocked() bool  { return w.unlocked }

func (w *Wallet) CachedBalances() protocol.BalanceState    { return w.balances }
func (w *Wallet) CachedNfts() []protocol.NftData           { return w.nfts }
func (w *Wallet) CachedProposals() []protocol.ProposalData { return w.proposals }

// Unlock decrypts the keystore (stubbed) and emits Unlocked once the
// simulated unlock latency elapses.
func (w *Wallet) Unlock(passphrase string) {
	w.log.Printf("[wallet] unlocking")
	w.sched.After(w.cfg.UnlockTicks, func(uint64) {
		w.address = deriveAddress(passphrase)
		w.unlocked = true
		w.Events.emitUnlocked(w.address)
	})
}

// Lock is immediate: it clears all cached sensitive data and emits Locked
// synchronously.
func (w *Wallet) Lock() {
	w.log.Printf("[wallet] locking")
	w.unlocked = false
	w.address = ""
	w.balances = protocol.BalanceState{}
	w.nfts = nil
	w.proposals = nil
	w.chronicle = nil
	w.Events.emitLocked()
}

func (w *Wallet) SendTokens(toAddress string, amount, maxFee float64) error {
	if !w.unlocked {
		return ErrLocked
	}
	w.log.Printf("[wallet] sending %.2f SVN to %s", amount, toAddress)
	w.sched.After(w.cfg.SendTicks, func(tick uint64) {
		w.balances.SoulvanCoin -= amount
		w.Events.emitTxComplete(w.txHash(tick, "send", toAddress), true)
	})
	return nil
}

// Balances fetches the (stubbed) chain balances; done receives the refreshed
// cache after the simulated query latency.
func (w *Wallet) Balances(done func(protocol.BalanceState)) error {
	if !w.unlocked {
		return ErrLocked
	}
	w.sched.After(w.cfg.QueryTicks, func(uint64) {
		w.balances = protocol.BalanceState{
			SoulvanCoin: 1000,
			Eth:         0.5,
			NftCount:    len(w.nfts),
			BadgeCount:  2,
			VotingPower: 100,
		}
		if done != nil {
			done(w.balances)
		}
	})
	return nil
}

func (w *Wallet) MintNft(metadataURI string) error {
	if !w.unlocked {
		return ErrLocked
	}
	w.log.Printf("[wallet] minting nft %s", metadataURI)
	w.pendingRewards = append(w.pendingRewards, metadataURI)
	w.sched.After(w.cfg.MintTicks, func(tick uint64) {
		tokenID := fmt.Sprintf("%d", len(w.nfts)+1)
		w.nfts = append(w.nfts, protocol.NftData{
			TokenID:  tokenID,
			Name:     fmt.Sprintf("Soulvan #%s", tokenID),
			ImageURI: metadataURI,
			NftType:  "CAR_SKIN",
		})
		w.balances.NftCount = len(w.nfts)
		w.removePendingReward(metadataURI)
		w.Events.emitNftMinted(tokenID, metadataURI)
		w.Events.emitTxComplete(w.txHash(tick, "mint", metadataURI), true)
	})
	return nil
}

func (w *Wallet) TransferNft(tokenID, toAddress string) error {
	if !w.unlocked {
		return ErrLocked
	}
	idx := -1
	for i, n := range w.nfts {
		if n.TokenID == tokenID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("unknown token %s", tokenID)
	}
	w.sched.After(w.cfg.SendTicks, func(tick uint64) {
		// Token may have been re-listed between scheduling and completion.
		for i, n := range w.nfts {
			if n.TokenID == tokenID {
				w.nfts = append(w.nfts[:i], w.nfts[i+1:]...)
				break
			}
		}
		w.balances.NftCount = len(w.nfts)
		w.Events.emitTxComplete(w.txHash(tick, "transfer", tokenID+toAddress), true)
	})
	return nil
}

func (w *Wallet) Nfts(done func([]protocol.NftData)) error {
	if !w.unlocked {
		return ErrLocked
	}
	w.sched.After(w.cfg.QueryTicks, func(uint64) {
		if done != nil {
			done(w.nfts)
		}
	})
	return nil
}

func (w *Wallet) VoteOnProposal(proposalID string, choice int) error {
	if !w.unlocked {
		return ErrLocked
	}
	w.sched.After(w.cfg.VoteTicks, func(tick uint64) {
		for i := range w.proposals {
			if w.proposals[i].ID != proposalID {
				continue
			}
			switch choice {
			case 0:
				w.proposals[i].AgainstVotes++
			case 1:
				w.proposals[i].ForVotes++
			default:
				w.proposals[i].AbstainVotes++
			}
		}
		w.Events.emitVoteCast(proposalID, choice)
		w.Events.emitTxComplete(w.txHash(tick, "vote", proposalID), true)
	})
	return nil
}

func (w *Wallet) SubmitProposal(description string) error {
	if !w.unlocked {
		return ErrLocked
	}
	w.sched.After(w.cfg.VoteTicks, func(tick uint64) {
		id := fmt.Sprintf("P%d", len(w.proposals)+1)
		w.proposals = append(w.proposals, protocol.ProposalData{
			ID:          id,
			Description: description,
			State:       "PENDING",
		})
		w.Events.emitTxComplete(w.txHash(tick, "proposal", id), true)
	})
	return nil
}

func (w *Wallet) Proposals(done func([]protocol.ProposalData)) error {
	if !w.unlocked {
		return ErrLocked
	}
	w.sched.After(w.cfg.QueryTicks, func(uint64) {
		if w.proposals == nil {
			w.proposals = []protocol.ProposalData{
				{ID: "P1", Description: "Extend season 2 chronicle", State: "ACTIVE", ForVotes: 12, AgainstVotes: 3},
			}
		}
		if done != nil {
			done(w.proposals)
		}
	})
	return nil
}

func (w *Wallet) ChronicleEntries(done func([]protocol.ChronicleItem)) error {
	if !w.unlocked {
		return ErrLocked
	}
	w.sched.After(w.cfg.QueryTicks, func(uint64) {
		if w.chronicle == nil {
			w.chronicle = []protocol.ChronicleItem{
				{ID: "C1", Title: "The Storm Run"},
				{ID: "C2", Title: "Oracle at the Overpass"},
			}
		}
		if done != nil {
			done(w.chronicle)
		}
	})
	return nil
}

// ExportSeed and ChangePassphrase stay synchronous: no chain round-trip.
func (w *Wallet) ExportSeed() (string, error) {
	if !w.unlocked {
		return "", ErrLocked
	}
	sum := sha256.Sum256([]byte("seed:" + w.address))
	return hex.EncodeToString(sum[:16]), nil
}

func (w *Wallet) ChangePassphrase(oldPassphrase, newPassphrase string) error {
	if !w.unlocked {
		return ErrLocked
	}
	if deriveAddress(oldPassphrase) != w.address {
		return fmt.Errorf("passphrase mismatch")
	}
	w.address = deriveAddress(newPassphrase)
	return nil
}

func (w *Wallet) removePendingReward(uri string) {
	for i, p := range w.pendingRewards {
		if p == uri {
			w.pendingRewards = append(w.pendingRewards[:i], w.pendingRewards[i+1:]...)
			return
		}
	}
}

func (w *Wallet) txHash(tick uint64, op, payload string) string {
	w.txSeq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d", w.address, op, payload, tick, w.txSeq)))
	return "0x" + hex.EncodeToString(sum[:8])
}

// deriveAddress fabricates a stable demo address from the passphrase, the
// same shape the shipped stub used.
func deriveAddress(passphrase string) string {
	p := strings.ToUpper(passphrase)
	if len(p) < 4 {
		p = (p + "0000")[:4]
	}
	return fmt.Sprintf("0x%s...%s", p[:4], p[len(p)-4:])
}
