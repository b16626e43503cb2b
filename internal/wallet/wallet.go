// Package wallet owns the current user's identity and coin balance. The
// balance lives in the remote registry; local state is an optimistic cache
// reconciled by periodic re-sync.
package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"stitch-studio/internal/registry"
)

const (
	// CoinCost is the fixed price of one image generation.
	CoinCost = 3
	// SignupGrant is the starting balance for a new lead.
	SignupGrant = 50

	// Manual refresh debounce: a finished sync re-arms only after this long.
	syncRearm = 1500 * time.Millisecond
)

var (
	ErrUnknownKey          = errors.New("studio key not found in registry")
	ErrIncompleteProfile   = errors.New("signup profile is incomplete")
	ErrRegistryDispatch    = errors.New("registry did not accept the request")
	ErrRegistryUnreachable = errors.New("registry is unreachable")
)

type User struct {
	WalletID string
	Name     string
	Coins    int
}

type Profile struct {
	Name             string
	Email            string
	Phone            string
	BusinessCategory string
}

// Registry is the subset of the registry client the manager needs.
type Registry interface {
	Lookup(ctx context.Context, walletID string) (registry.Wallet, error)
	CreateLead(ctx context.Context, lead registry.Lead) bool
	UpdateBalance(ctx context.Context, walletID string, coins int) bool
}

type Options struct {
	Registry     Registry
	Store        IdentityStore
	Logger       *slog.Logger
	SyncInterval time.Duration
}

type Manager struct {
	mu      sync.Mutex
	user    *User
	syncing bool

	reg      Registry
	store    IdentityStore
	logger   *slog.Logger
	interval time.Duration
	rearm    time.Duration
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	interval := opts.SyncInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	return &Manager{
		reg:      opts.Registry,
		store:    opts.Store,
		logger:   logger,
		interval: interval,
		rearm:    syncRearm,
	}
}

// CurrentUser returns a copy of the session, if one is present.
func (m *Manager) CurrentUser() (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.user == nil {
		return User{}, false
	}
	return *m.user, true
}

// Restore rebuilds the session from the persisted identity. The cached name
// is installed immediately with a zero balance, then one registry lookup
// either confirms it, invalidates it (not found), or is ignored (transport
// failure keeps the provisional state).
func (m *Manager) Restore(ctx context.Context) {
	id, ok := m.store.Load()
	if !ok {
		return
	}

	name := id.Name
	if name == "" {
		name = registry.DefaultName
	}

	m.mu.Lock()
	m.user = &User{WalletID: id.WalletID, Name: name, Coins: 0}
	m.mu.Unlock()

	w, err := m.reg.Lookup(ctx, id.WalletID)
	switch {
	case err == nil:
		m.install(id.WalletID, w)
	case errors.Is(err, registry.ErrNotFound):
		// Stale id: the registry no longer knows it.
		m.logger.Warn("stored wallet id rejected by registry", "wallet_id", id.WalletID)
		m.Logout()
	default:
		m.logger.Error("restore sync failed", "err", err)
	}
}

// Sync re-reads the balance for the current identity. Overlapping calls
// no-op; a finished sync re-arms after a fixed cool-down regardless of
// outcome so a manual refresh control visibly debounces.
func (m *Manager) Sync(ctx context.Context) {
	m.mu.Lock()
	if m.user == nil || m.syncing {
		m.mu.Unlock()
		return
	}
	m.syncing = true
	walletID := m.user.WalletID
	m.mu.Unlock()

	defer time.AfterFunc(m.rearm, func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	})

	w, err := m.reg.Lookup(ctx, walletID)
	if err != nil {
		// Background "not found" is deliberately indistinct from transport
		// noise here; only the explicit login path rejects on it.
		m.logger.Warn("wallet sync failed", "err", err)
		return
	}

	m.install(walletID, w)
}

// Syncing reports whether a sync pass (including its re-arm window) is
// active.
func (m *Manager) Syncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

// RunAutoSync re-syncs on a fixed interval while an identity is present.
// It blocks until ctx is done.
func (m *Manager) RunAutoSync(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, ok := m.CurrentUser(); ok {
				m.Sync(ctx)
			}
		}
	}
}

// Login installs the session for an existing wallet id, trusting the
// registry's coins and name over anything cached.
func (m *Manager) Login(ctx context.Context, key string) (User, error) {
	cleanKey := strings.ToUpper(strings.TrimSpace(key))
	if cleanKey == "" {
		return User{}, ErrUnknownKey
	}

	w, err := m.reg.Lookup(ctx, cleanKey)
	if errors.Is(err, registry.ErrNotFound) {
		return User{}, ErrUnknownKey
	}
	if err != nil {
		return User{}, ErrRegistryUnreachable
	}

	return m.install(cleanKey, w), nil
}

// Signup creates a new wallet: generates the id, submits the lead with the
// starting grant, and installs the identity locally.
func (m *Manager) Signup(ctx context.Context, p Profile) (User, error) {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Email) == "" {
		return User{}, ErrIncompleteProfile
	}

	walletID := NewWalletID()
	ok := m.reg.CreateLead(ctx, registry.Lead{
		Name:             p.Name,
		Email:            p.Email,
		Phone:            p.Phone,
		BusinessCategory: p.BusinessCategory,
		WalletID:         walletID,
		Coins:            SignupGrant,
	})
	if !ok {
		return User{}, ErrRegistryDispatch
	}

	return m.install(walletID, registry.Wallet{Coins: SignupGrant, Name: p.Name}), nil
}

// Debit clamps the local balance first, then writes through. Write failures
// are logged only; the next sync reconciles the display.
func (m *Manager) Debit(ctx context.Context, amount int) {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return
	}

	newBalance := m.user.Coins - amount
	if newBalance < 0 {
		newBalance = 0
	}
	m.user.Coins = newBalance
	walletID := m.user.WalletID
	m.mu.Unlock()

	if !m.reg.UpdateBalance(ctx, walletID, newBalance) {
		m.logger.Error("balance write-through failed", "wallet_id", walletID, "coins", newBalance)
	}
}

// Logout drops the session and the persisted identity.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.logger.Error("clear identity failed", "err", err)
	}
}

func (m *Manager) install(walletID string, w registry.Wallet) User {
	user := User{WalletID: walletID, Name: w.Name, Coins: w.Coins}

	m.mu.Lock()
	m.user = &user
	m.mu.Unlock()

	if err := m.store.Save(Identity{WalletID: walletID, Name: w.Name}); err != nil {
		m.logger.Error("persist identity failed", "err", err)
	}
	return user
}
