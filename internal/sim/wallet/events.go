package wallet

// Events is the wallet's typed observer registry. Dispatch is synchronous
// and happens once per event on the session goroutine; subscribers added
// after an event do not see it replayed.
type Events struct {
	unlocked   []func(address string)
	locked     []func()
	txComplete []func(txHash string, success bool)
	nftMinted  []func(tokenID, metadataURI string)
	voteCast   []func(proposalID string, choice int)
}

func (e *Events) OnUnlocked(fn func(address string)) { e.unlocked = append(e.unlocked, fn) }
func (e *Events) OnLocked(fn func())                 { e.locked = append(e.locked, fn) }

func (e *Events) OnTransactionComplete(fn func(txHash string, success bool)) {
	e.txComplete = append(e.txComplete, fn)
}

func (e *Events) OnNftMinted(fn func(tokenID, metadataURI string)) {
	e.nftMinted = append(e.nftMinted, fn)
}

func (e *Events) OnVoteCast(fn func(proposalID string, choice int)) {
	e.voteCast = append(e.voteCast, fn)
}

func (e *Events) emitUnlocked(address string) {
	for _, fn := range e.unlocked {
		fn(address)
	}
}

func (e *Events) emitLocked() {
	for _, fn := range e.locked {
		fn()
	}
}

func (e *Events) emitTxComplete(txHash string, success bool) {
	for _, fn := range e.txComplete {
		fn(txHash, success)
	}
}

func (e *Events) emitNftMinted(tokenID, metadataURI string) {
	for _, fn := range e.nftMinted {
		fn(tokenID, metadataURI)
	}
}

func (e *Events) emitVoteCast(proposalID string, choice int) {
	for _, fn := range e.voteCast {
		fn(proposalID, choice)
	}
}
