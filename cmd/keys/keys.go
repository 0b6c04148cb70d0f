package keys

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"tradejournal/src/model"
)

type encrypter interface {
	Encrypt(plain string) (string, error)
}

type connectionUpserter interface {
	Upsert(ctx context.Context, c *model.ExchangeConnection) error
}

// Keys stores exchange credentials encrypted at rest.
type Keys struct {
	Cipher      encrypter
	Connections connectionUpserter
	Config      Config
}

// Set encrypts key and secret and creates or reactivates the user's
// connection.
func (k *Keys) Set(ctx context.Context, userID uint, apiKey, apiSecret string) (*model.ExchangeConnection, error) {
	if userID == 0 || apiKey == "" || apiSecret == "" {
		return nil, errors.New("user id, key and secret are required")
	}

	encryptKey, err := k.Cipher.Encrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt key: %w", err)
	}
	encryptSecret, err := k.Cipher.Encrypt(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}

	conn := &model.ExchangeConnection{
		UserID:            userID,
		Exchange:          k.Config.Exchange,
		APIKeyHash:        encryptKey,
		APISecretHash:     encryptSecret,
		AutoSync:          k.Config.AutoSync,
		SyncIntervalHours: k.Config.SyncIntervalHours,
		Categories:        k.Config.Categories,
		StreamEnabled:     k.Config.StreamEnabled,
		IsActive:          true,
	}
	if err := k.Connections.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("upsert connection: %w", err)
	}

	logger.WithFields(logger.Fields{
		"user_id":  userID,
		"exchange": conn.Exchange,
	}).Info("Exchange credentials stored")
	return conn, nil
}
