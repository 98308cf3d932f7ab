// Package session は認証状態のシグナルと、それに連動したライフサイクル制御を提供する。
package session

import (
	"sync"
)

// Phase は認証状態の3値。
type Phase int

const (
	// PhaseLoading は認証状態の確認中。ストアへの呼び出しは行わない。
	PhaseLoading Phase = iota
	// PhaseUnauthenticated は未ログイン。
	PhaseUnauthenticated
	// PhaseAuthenticated はログイン済み。
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// User はログイン中のユーザー。
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// State はシグナルの値。UserはPhaseAuthenticatedの場合のみ設定される。
type State struct {
	Phase Phase
	User  *User
}

// Loading はPhaseLoadingの状態を返す。
func Loading() State { return State{Phase: PhaseLoading} }

// Unauthenticated はPhaseUnauthenticatedの状態を返す。
func Unauthenticated() State { return State{Phase: PhaseUnauthenticated} }

// Authenticated はユーザー付きのPhaseAuthenticatedの状態を返す。
func Authenticated(u User) State { return State{Phase: PhaseAuthenticated, User: &u} }

// IsAuthenticated はログイン済みかを返す。
func (s State) IsAuthenticated() bool {
	return s.Phase == PhaseAuthenticated && s.User != nil
}

// Signal は認証状態を保持し、変化を購読者に同期的に通知する。
// 初期状態はPhaseLoading。
type Signal struct {
	setMu sync.Mutex // Setの直列化。購読者への通知中も保持する

	mu       sync.Mutex
	state    State
	watchers map[int]func(State)
	next     int
}

// NewSignal はPhaseLoadingで始まるSignalを生成する。
func NewSignal() *Signal {
	return &Signal{
		state:    Loading(),
		watchers: make(map[int]func(State)),
	}
}

// Current は現在の状態を返す。
func (s *Signal) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set は状態を更新し、購読者に登録順で通知する。購読者の中からSetを呼んではならない。
func (s *Signal) Set(st State) {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	s.state = st
	fns := make([]func(State), 0, len(s.watchers))
	for i := 0; i < s.next; i++ {
		if fn, ok := s.watchers[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// Watch は状態変化の購読を開始し、解除関数を返す。
func (s *Signal) Watch(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}
