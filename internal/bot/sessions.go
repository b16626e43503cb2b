package bot

import (
	"context"
	"sync"
	"time"

	"stitch-studio/internal/studio"
	"stitch-studio/internal/wallet"
)

type signupStep int

const (
	stepName signupStep = iota
	stepEmail
	stepPhone
	stepCategory
)

// chatSession holds one chat's wallet, conversation, and signup-flow state.
type chatSession struct {
	wallet *wallet.Manager
	studio *studio.Controller

	mu           sync.Mutex
	signupActive bool
	signupStep   signupStep
	profile      wallet.Profile
	lastActivity time.Time
}

type sessionStore struct {
	mu      sync.Mutex
	m       map[int64]*chatSession
	factory func(chatID int64) *chatSession
}

func newSessionStore(factory func(chatID int64) *chatSession) *sessionStore {
	return &sessionStore{
		m:       make(map[int64]*chatSession),
		factory: factory,
	}
}

// get returns the chat's session, restoring a persisted identity on first
// touch.
func (s *sessionStore) get(ctx context.Context, chatID int64) *chatSession {
	s.mu.Lock()
	sess, ok := s.m[chatID]
	if !ok {
		sess = s.factory(chatID)
		s.m[chatID] = sess
	}
	s.mu.Unlock()

	if !ok {
		sess.wallet.Restore(ctx)
	}

	sess.mu.Lock()
	sess.lastActivity = time.Now()
	sess.mu.Unlock()

	return sess
}

func (cs *chatSession) startSignup() {
	cs.mu.Lock()
	cs.signupActive = true
	cs.signupStep = stepName
	cs.profile = wallet.Profile{}
	cs.mu.Unlock()
}

func (cs *chatSession) cancelSignup() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	active := cs.signupActive
	cs.signupActive = false
	return active
}

func (cs *chatSession) signupInProgress() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.signupActive
}
