package handler

import (
	"context"
	"fmt"

	"github.com/hitoshi/entryboard/internal/collection"
	"github.com/hitoshi/entryboard/internal/model"
	"github.com/hitoshi/entryboard/internal/session"
	"github.com/hitoshi/entryboard/internal/workspace"
)

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// WorkspaceAdapter はworkspace.ManagerをSessionLifecycleとCollectionResolverに適合させる。
type WorkspaceAdapter struct {
	manager *workspace.Manager
	users   UserFinder
}

// NewWorkspaceAdapter はWorkspaceAdapterを生成する。
func NewWorkspaceAdapter(manager *workspace.Manager, users UserFinder) *WorkspaceAdapter {
	return &WorkspaceAdapter{manager: manager, users: users}
}

// Start はサインイン直後にワークスペースを開始する。
func (a *WorkspaceAdapter) Start(ctx context.Context, sessionID string, user *model.User) error {
	_, err := a.manager.Activate(ctx, sessionID, toSessionUser(user))
	return err
}

// End はサインアウト時にワークスペースを破棄する。
func (a *WorkspaceAdapter) End(sessionID string) {
	a.manager.Deactivate(sessionID)
}

// Resolve はセッションのCollectionを返す。
// サーバー再起動後や初期読み込み失敗後など、ワークスペースがなければここで開始する。
func (a *WorkspaceAdapter) Resolve(ctx context.Context, sessionID, userID string) (*collection.Collection, error) {
	if ws, ok := a.manager.Get(sessionID); ok && ws.User.ID == userID && ws.Collection.Active() {
		return ws.Collection, nil
	}

	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	ws, err := a.manager.Activate(ctx, sessionID, toSessionUser(user))
	if err != nil {
		return nil, err
	}
	return ws.Collection, nil
}

func toSessionUser(u *model.User) session.User {
	return session.User{ID: u.ID, Email: u.Email}
}
