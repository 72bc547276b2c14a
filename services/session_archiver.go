package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/crypto"
)

// ObjectStore is where archived sessions go (DigitalOcean Spaces in production)
type ObjectStore interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
}

// SessionArchiver stores completed sessions encrypted with a passphrase
type SessionArchiver struct {
	store      ObjectStore
	passphrase string
	log        *utils.Logger
}

func NewSessionArchiver(store ObjectStore, passphrase string, log *utils.Logger) *SessionArchiver {
	return &SessionArchiver{store: store, passphrase: passphrase, log: log}
}

// ArchiveKey is the object key of a session's archive
func ArchiveKey(session *model.Session) string {
	return fmt.Sprintf("%d/%s.json.enc", session.UserID, session.ID)
}

// Archive uploads the session and returns the object key
func (a *SessionArchiver) Archive(ctx context.Context, session *model.Session) (string, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	sealed, err := crypto.SealWithPassphrase(raw, a.passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt session: %w", err)
	}

	key := ArchiveKey(session)
	start := time.Now()
	if err := a.store.UploadBytes(ctx, key, sealed, "application/octet-stream"); err != nil {
		return "", err
	}

	a.log.Info("Session archived", "session_id", session.ID, "key", key, "bytes", len(sealed), "duration", time.Since(start))
	return key, nil
}

// Restore downloads and decrypts an archived session
func (a *SessionArchiver) Restore(ctx context.Context, key string) (*model.Session, error) {
	sealed, err := a.store.DownloadBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.OpenWithPassphrase(sealed, a.passphrase)
	if err != nil {
		return nil, err
	}
	var session model.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode archived session: %w", err)
	}
	return &session, nil
}
