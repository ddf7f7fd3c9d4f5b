package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pokegambler-engine/internal/domain"
)

// SystemRequester authorizes cancellations issued by the registry or the
// sweep worker rather than by a player.
const SystemRequester = "system"

// saveAttempts bounds optimistic-concurrency retries on profile saves.
const saveAttempts = 3

type joinRequest struct {
	playerID string
	reply    chan error
}

type actionRequest struct {
	playerID string
	action   domain.Action
	reply    chan error
}

type cancelRequest struct {
	requester string
	expire    bool
	reply     chan error
}

type startRequest struct {
	requester string
	reply     chan error
}

// Match is the aggregate root for one game instance. Its transitions run
// on a single goroutine; the registry and sweep talk to it over channels.
type Match struct {
	id        string
	ruleset   domain.Ruleset
	stake     int64
	initiator string

	cfg  Config
	deps Deps
	log  *slog.Logger

	// mu guards the snapshot fields against cross-goroutine reads; only
	// the match goroutine (and SeedInitiator before Start) writes them.
	mu           sync.Mutex
	state        domain.MatchState
	participants []string
	escrowed     []string
	hands        map[string][]domain.Card
	revealed     map[string]bool
	pot          int64
	createdAt    time.Time
	lastActivity time.Time

	joinCh   chan joinRequest
	actionCh chan actionRequest
	cancelCh chan cancelRequest
	startCh  chan startRequest
	done     chan struct{}

	onTerminal func(*Match)
}

// NewMatch creates a Forming match for the given ruleset and stake.
func NewMatch(cfg Config, deps Deps, ruleset domain.Ruleset, initiator string, stake int64) *Match {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	now := time.Now()
	return &Match{
		id:           id,
		ruleset:      ruleset,
		stake:        stake,
		initiator:    initiator,
		cfg:          cfg,
		deps:         deps,
		log:          deps.Logger.With("match_id", id, "game_type", ruleset.Name),
		state:        domain.StateForming,
		hands:        make(map[string][]domain.Card),
		revealed:     make(map[string]bool),
		createdAt:    now,
		lastActivity: now,
		joinCh:       make(chan joinRequest),
		actionCh:     make(chan actionRequest),
		cancelCh:     make(chan cancelRequest),
		startCh:      make(chan startRequest),
		done:         make(chan struct{}),
	}
}

// ID returns the match identifier.
func (m *Match) ID() string { return m.id }

// Initiator returns the player who created the match.
func (m *Match) Initiator() string { return m.initiator }

// Done is closed once the match reaches a terminal state.
func (m *Match) Done() <-chan struct{} { return m.done }

// OnTerminal registers a callback invoked after the match terminates.
// Must be set before Start.
func (m *Match) OnTerminal(fn func(*Match)) { m.onTerminal = fn }

// SeedInitiator joins the initiator before the match goroutine starts, so
// creation fails synchronously if the initiator cannot stake.
func (m *Match) SeedInitiator(ctx context.Context) error {
	return m.handleJoin(ctx, m.initiator)
}

// Start launches the match goroutine.
func (m *Match) Start() {
	go m.run()
}

// Join adds a player during Forming.
func (m *Match) Join(ctx context.Context, playerID string) error {
	req := joinRequest{playerID: playerID, reply: make(chan error, 1)}
	select {
	case m.joinCh <- req:
	case <-m.done:
		return domain.ErrInvalidAction
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitAction routes a player action into the match.
func (m *Match) SubmitAction(ctx context.Context, playerID string, action domain.Action) error {
	req := actionRequest{playerID: playerID, action: action, reply: make(chan error, 1)}
	select {
	case m.actionCh <- req:
	case <-m.done:
		return domain.ErrInvalidAction
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Begin closes formation early, before the join window expires. Only the
// initiator may begin; a table below the ruleset minimum is rejected with
// domain.ErrBelowMinimumParticipants and keeps forming.
func (m *Match) Begin(ctx context.Context, requesterID string) error {
	req := startRequest{requester: requesterID, reply: make(chan error, 1)}
	select {
	case m.startCh <- req:
	case <-m.done:
		return domain.ErrInvalidAction
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the match. Only the initiator or the system may cancel;
// cancelling an already-terminal match is a no-op.
func (m *Match) Cancel(ctx context.Context, requesterID string) error {
	return m.sendCancel(ctx, cancelRequest{requester: requesterID, reply: make(chan error, 1)})
}

// Expire drives the match to Expired. Idempotent.
func (m *Match) Expire(ctx context.Context) error {
	return m.sendCancel(ctx, cancelRequest{requester: SystemRequester, expire: true, reply: make(chan error, 1)})
}

func (m *Match) sendCancel(ctx context.Context, req cancelRequest) error {
	select {
	case m.cancelCh <- req:
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View returns a read-only snapshot of the match.
func (m *Match) View() domain.MatchView {
	m.mu.Lock()
	defer m.mu.Unlock()
	participants := make([]string, len(m.participants))
	copy(participants, m.participants)
	return domain.MatchView{
		ID:           m.id,
		GameType:     m.ruleset.Name,
		State:        m.state,
		Participants: participants,
		Stake:        m.stake,
		Pot:          m.pot,
		CreatedAt:    m.createdAt,
		LastActivity: m.lastActivity,
	}
}

// State returns the current lifecycle state.
func (m *Match) State() domain.MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// run is the match event loop. Collecting and Resolving execute inline
// during transitions; Forming and Playing wait on timers and channels.
func (m *Match) run() {
	ctx := context.Background()
	timer := time.NewTimer(m.cfg.JoinWindow)
	defer timer.Stop()

	for !m.State().Terminal() {
		switch m.State() {
		case domain.StateForming:
			select {
			case req := <-m.joinCh:
				req.reply <- m.handleJoin(ctx, req.playerID)
				if m.participantCount() >= m.ruleset.MaxPlayers {
					m.beginPlay(ctx, timer)
				}
			case req := <-m.actionCh:
				req.reply <- domain.ErrInvalidAction
			case req := <-m.startCh:
				switch {
				case req.requester != m.initiator:
					req.reply <- domain.ErrInvalidAction
				case m.participantCount() < m.ruleset.MinPlayers:
					req.reply <- domain.ErrBelowMinimumParticipants
				default:
					m.beginPlay(ctx, timer)
					req.reply <- nil
				}
			case req := <-m.cancelCh:
				req.reply <- m.handleCancel(ctx, req)
			case <-timer.C:
				m.beginPlay(ctx, timer)
			}

		case domain.StatePlaying:
			select {
			case req := <-m.joinCh:
				// A table that filled to capacity reports itself full;
				// a table that started early below capacity is merely
				// closed to joins.
				if m.participantCount() >= m.ruleset.MaxPlayers {
					req.reply <- domain.ErrMatchFull
				} else {
					req.reply <- domain.ErrInvalidAction
				}
			case req := <-m.actionCh:
				req.reply <- m.handleAction(req.playerID, req.action)
				if m.allRevealed() {
					m.resolve(ctx)
				}
			case req := <-m.startCh:
				req.reply <- domain.ErrInvalidAction
			case req := <-m.cancelCh:
				req.reply <- m.handleCancel(ctx, req)
			case <-timer.C:
				m.resolve(ctx)
			}

		default:
			// Collecting/Resolving never park here; bail out if they do.
			m.terminate(ctx, domain.StateCancelled, domain.CancelReasonInternal)
		}
	}

	close(m.done)
	if m.onTerminal != nil {
		m.onTerminal(m)
	}
}

// handleJoin admits a player: capacity check, match lock, then a balance
// precheck so the joiner learns about insufficient funds before the stake
// is ever escrowed.
func (m *Match) handleJoin(ctx context.Context, playerID string) error {
	if m.State() != domain.StateForming {
		return domain.ErrInvalidAction
	}
	if m.isParticipant(playerID) {
		return domain.ErrInvalidAction
	}
	if m.participantCount() >= m.ruleset.MaxPlayers {
		return domain.ErrMatchFull
	}

	if err := m.deps.Locks.TryAcquireMatchLock(ctx, playerID, m.id); err != nil {
		return err
	}

	profile, err := m.deps.Profiles.Load(ctx, playerID)
	if err != nil {
		m.releaseLock(ctx, playerID)
		return err
	}
	if profile.Balance < m.stake {
		m.releaseLock(ctx, playerID)
		return domain.ErrInsufficientFunds
	}

	m.mu.Lock()
	m.participants = append(m.participants, playerID)
	m.lastActivity = time.Now()
	m.mu.Unlock()

	m.log.Info("player joined", "player_id", playerID, "participants", m.participantCount())
	return nil
}

// beginPlay closes formation: collect stakes, then deal.
func (m *Match) beginPlay(ctx context.Context, timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	m.collect(ctx)
	if m.State().Terminal() {
		return
	}
	m.deal(ctx)
	if m.State().Terminal() {
		return
	}
	timer.Reset(m.cfg.TurnTimeout)
}

// collect escrows every participant's stake. A single failure drops that
// participant only; falling below the minimum cancels the whole match and
// refunds whatever was already escrowed.
func (m *Match) collect(ctx context.Context) {
	if m.participantCount() < m.ruleset.MinPlayers {
		m.terminate(ctx, domain.StateCancelled, domain.CancelReasonBelowMinimum)
		return
	}
	m.setState(ctx, domain.StateCollecting)

	kept := make([]string, 0, m.participantCount())
	for _, playerID := range m.participantList() {
		_, err := m.deps.Ledger.Apply(ctx, domain.Transaction{
			From:    playerID,
			To:      domain.HouseAccount,
			Amount:  m.stake,
			Reason:  domain.ReasonStake,
			MatchID: m.id,
		})
		if err != nil {
			m.log.Warn("stake collection failed, dropping participant",
				"player_id", playerID, "error", err)
			m.releaseLock(ctx, playerID)
			continue
		}
		kept = append(kept, playerID)
	}

	m.mu.Lock()
	m.participants = kept
	m.escrowed = append([]string(nil), kept...)
	m.pot = m.stake * int64(len(kept))
	m.lastActivity = time.Now()
	m.mu.Unlock()

	if len(kept) < m.ruleset.MinPlayers {
		m.terminate(ctx, domain.StateCancelled, domain.CancelReasonBelowMinimum)
	}
}

// deal shuffles a fresh deck and hands out cards in join order.
func (m *Match) deal(ctx context.Context) {
	m.setState(ctx, domain.StatePlaying)

	deck := domain.NewDeck(m.ruleset)
	deck.Shuffle(m.cfg.NewRand())

	for _, playerID := range m.participantList() {
		hand, err := deck.Deal(m.ruleset.CardsPerHand)
		if err != nil {
			m.log.Error("dealing failed", "player_id", playerID, "error", err)
			m.terminate(ctx, domain.StateCancelled, domain.CancelReasonInternal)
			return
		}
		m.mu.Lock()
		m.hands[playerID] = hand
		m.mu.Unlock()
	}
}

// handleAction processes a reveal during Playing.
func (m *Match) handleAction(playerID string, action domain.Action) error {
	if action.Type != domain.ActionReveal {
		return domain.ErrInvalidAction
	}
	if !m.isParticipant(playerID) {
		return domain.ErrInvalidAction
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revealed[playerID] {
		return domain.ErrInvalidAction
	}
	m.revealed[playerID] = true
	m.lastActivity = time.Now()
	return nil
}

// resolve freezes hands, ranks them, pays the pot out in one batch and
// records the winners' progression.
func (m *Match) resolve(ctx context.Context) {
	m.setState(ctx, domain.StateResolving)

	participants := m.participantList()
	scores := make(map[string]domain.Score, len(participants))
	anyRevealed := false
	m.mu.Lock()
	for _, p := range participants {
		if m.revealed[p] {
			scores[p] = domain.Evaluate(m.hands[p])
			anyRevealed = true
		} else {
			scores[p] = domain.FoldedScore()
		}
	}
	m.mu.Unlock()

	if !anyRevealed {
		m.terminate(ctx, domain.StateCancelled, domain.CancelReasonAllFolded)
		return
	}

	// Strict ranking: join order breaks nothing here because card powers
	// are unique; ties only occur between equal multi-card totals.
	var winners []string
	for _, p := range participants {
		if len(winners) == 0 {
			winners = []string{p}
			continue
		}
		best := scores[winners[0]]
		switch {
		case m.ruleset.Beats(scores[p], best):
			winners = []string{p}
		case !m.ruleset.Beats(best, scores[p]):
			winners = append(winners, p)
		}
	}

	pot := m.potTotal()
	feePercent := m.ruleset.FeePercent(len(participants))
	fee := pot * int64(feePercent) / 100
	distributable := pot - fee
	share := distributable / int64(len(winners))
	remainder := distributable % int64(len(winners))

	payouts := make(map[string]int64, len(winners))
	txs := make([]domain.Transaction, 0, len(winners)+1)
	for i, w := range winners {
		amount := share
		if i == 0 {
			amount += remainder
		}
		payouts[w] = amount
		txs = append(txs, domain.Transaction{
			From:    domain.HouseAccount,
			To:      w,
			Amount:  amount,
			Reason:  domain.ReasonPayout,
			MatchID: m.id,
		})
	}
	if fee > 0 {
		// The house keeps the fee; the self-transfer documents the take
		// so stakes always reconcile against payouts plus fees.
		txs = append(txs, domain.Transaction{
			From:    domain.HouseAccount,
			To:      domain.HouseAccount,
			Amount:  fee,
			Reason:  domain.ReasonFee,
			MatchID: m.id,
		})
	}

	if _, err := m.deps.Ledger.ApplyBatch(ctx, txs); err != nil {
		m.log.Error("payout batch failed", "error", err)
		m.terminate(ctx, domain.StateCancelled, domain.CancelReasonLedger)
		return
	}

	// The pot is fully distributed; nothing is left to refund.
	m.mu.Lock()
	m.escrowed = nil
	m.mu.Unlock()

	for _, w := range winners {
		m.recordWin(ctx, w)
	}

	m.setState(ctx, domain.StateSettled)
	m.emit(ctx, domain.EventMatchSettled, domain.Settled{
		Winners: winners,
		Payouts: payouts,
		Fee:     fee,
	})
	m.releaseAllLocks(ctx)
	m.log.Info("match settled", "winners", winners, "pot", pot, "fee", fee)
}

// recordWin bumps the winner's cumulative wins and derived tier with a
// bounded optimistic-concurrency retry.
func (m *Match) recordWin(ctx context.Context, playerID string) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		profile, err := m.deps.Profiles.Load(ctx, playerID)
		if err != nil {
			m.log.Warn("loading winner profile failed", "player_id", playerID, "error", err)
			return
		}
		profile.Wins++
		profile.Tier = domain.TierFor(profile.Wins)
		err = m.deps.Profiles.Save(ctx, profile)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrConflict) {
			m.log.Warn("saving winner profile failed", "player_id", playerID, "error", err)
			return
		}
	}
	m.log.Warn("winner profile save exhausted retries", "player_id", playerID)
}

// handleCancel serves cancel and expire requests on the match goroutine.
func (m *Match) handleCancel(ctx context.Context, req cancelRequest) error {
	if req.expire {
		m.terminate(ctx, domain.StateExpired, domain.CancelReasonExpired)
		return nil
	}
	if req.requester != m.initiator && req.requester != SystemRequester {
		return domain.ErrInvalidAction
	}
	m.terminate(ctx, domain.StateCancelled, domain.CancelReasonRequested)
	return nil
}

// terminate drives the match to a terminal failure state, refunding any
// escrowed stakes exactly once and releasing every match lock. A match
// must never end holding chips that belong to no one.
func (m *Match) terminate(ctx context.Context, to domain.MatchState, reason string) {
	if m.State().Terminal() {
		return
	}

	m.mu.Lock()
	escrowed := m.escrowed
	m.escrowed = nil
	m.mu.Unlock()

	if len(escrowed) > 0 {
		txs := make([]domain.Transaction, 0, len(escrowed))
		for _, playerID := range escrowed {
			txs = append(txs, domain.Transaction{
				From:    domain.HouseAccount,
				To:      playerID,
				Amount:  m.stake,
				Reason:  domain.ReasonRefund,
				MatchID: m.id,
			})
		}
		if _, err := m.deps.Ledger.ApplyBatch(ctx, txs); err != nil {
			m.log.Error("refund batch failed", "error", err)
		}
	}

	m.releaseAllLocks(ctx)
	m.setState(ctx, to)
	m.emit(ctx, domain.EventMatchCancelled, domain.Cancelled{Reason: reason})
	m.log.Info("match terminated", "state", to, "reason", reason)
}

func (m *Match) releaseAllLocks(ctx context.Context) {
	for _, playerID := range m.participantList() {
		m.releaseLock(ctx, playerID)
	}
}

func (m *Match) releaseLock(ctx context.Context, playerID string) {
	if err := m.deps.Locks.ReleaseMatchLock(ctx, playerID, m.id); err != nil {
		m.log.Warn("releasing match lock failed", "player_id", playerID, "error", err)
	}
}

// setState applies a lifecycle transition and emits the change event.
func (m *Match) setState(ctx context.Context, to domain.MatchState) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	if !domain.CanTransition(from, to) {
		m.mu.Unlock()
		m.log.Error("illegal state transition", "from", from, "to", to)
		return
	}
	m.state = to
	m.lastActivity = time.Now()
	m.mu.Unlock()

	m.emit(ctx, domain.EventMatchStateChanged, domain.StateChanged{State: to})
}

func (m *Match) emit(ctx context.Context, eventType string, data interface{}) {
	m.deps.Emitter.Emit(ctx, domain.Event{
		Type:      eventType,
		MatchID:   m.id,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (m *Match) participantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.participants)
}

func (m *Match) participantList() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.participants))
	copy(out, m.participants)
	return out
}

func (m *Match) isParticipant(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p == playerID {
			return true
		}
	}
	return false
}

func (m *Match) allRevealed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.participants) == 0 {
		return false
	}
	for _, p := range m.participants {
		if !m.revealed[p] {
			return false
		}
	}
	return true
}

func (m *Match) potTotal() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pot
}
