package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	VehicleName     string     `json:"vehicle_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"` // resume token for reconnects
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	VehicleID       string        `json:"vehicle_id"`
	ResumeToken     string        `json:"resume_token"`
	SessionParams   SessionParams `json:"session_params"`
}

type SessionParams struct {
	TickRateHz        int     `json:"tick_rate_hz"`
	EvalIntervalTicks int     `json:"eval_interval_ticks"`
	EvalJitterTicks   int     `json:"eval_jitter_ticks"`
	MaxSpeedKmh       float64 `json:"max_speed_kmh"`
	Seed              int64   `json:"seed"`
}

// TELEMETRY (client -> server): the host-side world sample for one vehicle.
// Absent rival/pursuer positions mean "not tracked" and contribute zero
// proximity on the next evaluation.
type TelemetryMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Pos             [3]float64  `json:"pos"`
	RivalPos        *[3]float64 `json:"rival_pos,omitempty"`
	PursuerPos      *[3]float64 `json:"pursuer_pos,omitempty"`
	SpeedKmh        float64     `json:"speed_kmh"`
	DamageFraction  float64     `json:"damage_fraction"`
}

// STATE (server -> client): one threat evaluation plus the presentation
// derived from it. Sent on the evaluator cadence, not every tick.
type StateMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Tick            uint64          `json:"tick"`
	VehicleID       string          `json:"vehicle_id"`
	ThreatLevel     float64         `json:"threat_level"`
	SpeedKmh        float64         `json:"speed_kmh"`
	MotifIntensity  float64         `json:"motif_intensity"`
	Presentation    PresentationMsg `json:"presentation"`
}

// PresentationMsg mirrors the motif presentation on the wire. Duplicated
// here to keep protocol free of sim imports.
type PresentationMsg struct {
	Motif      string       `json:"motif"`
	Intensity  float64      `json:"intensity"`
	Overlays   []OverlayMsg `json:"overlays"`
	TrackID    string       `json:"track_id"`
	StartTrack bool         `json:"start_track"`
	Pitch      float64      `json:"pitch"`
	Volume     float64      `json:"volume"`
}

type OverlayMsg struct {
	Motif        string  `json:"motif"`
	Active       bool    `json:"active"`
	EmissionRate float64 `json:"emission_rate"`
}

// Wallet operation identifiers.
const (
	WalletOpUnlock         = "UNLOCK"
	WalletOpLock           = "LOCK"
	WalletOpSendTokens     = "SEND_TOKENS"
	WalletOpGetBalances    = "GET_BALANCES"
	WalletOpMintNft        = "MINT_NFT"
	WalletOpTransferNft    = "TRANSFER_NFT"
	WalletOpGetNfts        = "GET_NFTS"
	WalletOpVote           = "VOTE"
	WalletOpSubmitProposal = "SUBMIT_PROPOSAL"
	WalletOpGetProposals   = "GET_PROPOSALS"
	WalletOpGetChronicle   = "GET_CHRONICLE"
)

// WALLET_OP (client -> server)
type WalletOpMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Op              string `json:"op"`

	Passphrase  string  `json:"passphrase,omitempty"`
	ToAddress   string  `json:"to_address,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	MaxFee      float64 `json:"max_fee,omitempty"`
	MetadataURI string  `json:"metadata_uri,omitempty"`
	TokenID     string  `json:"token_id,omitempty"`
	ProposalID  string  `json:"proposal_id,omitempty"`
	Choice      int     `json:"choice,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Wallet event identifiers.
const (
	WalletEvUnlocked   = "WALLET_UNLOCKED"
	WalletEvLocked     = "WALLET_LOCKED"
	WalletEvTxComplete = "TX_COMPLETE"
	WalletEvNftMinted  = "NFT_MINTED"
	WalletEvVoteCast   = "VOTE_CAST"
	WalletEvBalances   = "BALANCES"
	WalletEvNfts       = "NFTS"
	WalletEvProposals  = "PROPOSALS"
	WalletEvChronicle  = "CHRONICLE"
)

// WALLET_EVENT (server -> client)
type WalletEventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Event           string `json:"event"`
	Tick            uint64 `json:"tick"`

	Address     string `json:"address,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	Success     *bool  `json:"success,omitempty"`
	TokenID     string `json:"token_id,omitempty"`
	MetadataURI string `json:"metadata_uri,omitempty"`
	ProposalID  string `json:"proposal_id,omitempty"`
	Choice      int    `json:"choice,omitempty"`

	Balances  *BalanceState   `json:"balances,omitempty"`
	Nfts      []NftData       `json:"nfts,omitempty"`
	Proposals []ProposalData  `json:"proposals,omitempty"`
	Entries   []ChronicleItem `json:"entries,omitempty"`
}

type BalanceState struct {
	SoulvanCoin float64 `json:"soulvan_coin"`
	Eth         float64 `json:"eth"`
	NftCount    int     `json:"nft_count"`
	BadgeCount  int     `json:"badge_count"`
	VotingPower int     `json:"voting_power"`
}

type NftData struct {
	TokenID       string `json:"token_id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ImageURI      string `json:"image_uri,omitempty"`
	Rarity        string `json:"rarity,omitempty"`
	SeasonChapter int    `json:"season_chapter,omitempty"`
	NftType       string `json:"nft_type"`
}

type ProposalData struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	ForVotes     int    `json:"for_votes"`
	AgainstVotes int    `json:"against_votes"`
	AbstainVotes int    `json:"abstain_votes"`
	State        string `json:"state"`
	Deadline     int    `json:"deadline"`
}

type ChronicleItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
