package keys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"tradejournal/src/database"
	"tradejournal/src/model"
	"tradejournal/src/repository"
	"tradejournal/src/security"
)

const testKey = "Pjk+k4hske5KkKtbaKSVDOgpllRl+0EI6oCAdx88XqI="

func TestSetStoresEncryptedAndReactivates(t *testing.T) {
	db, err := database.OpenSQLite(":memory:", 0)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cipher, err := security.NewCipher(testKey)
	require.NoError(t, err)
	repo := repository.NewConnectionRepositoryWithDB(db)
	k := &Keys{Cipher: cipher, Connections: repo, Config: Config{
		Exchange:          model.ExchangeBybit,
		AutoSync:          true,
		SyncIntervalHours: 4,
		Categories:        []string{model.CategoryLinear},
	}}
	ctx := context.Background()

	conn, err := k.Set(ctx, 7, "key-1", "secret-1")
	require.NoError(t, err)
	require.NotContains(t, conn.APIKeyHash, "key-1")

	require.NoError(t, repo.Deactivate(ctx, conn.ID, "revoked"))

	_, err = k.Set(ctx, 7, "key-2", "secret-2")
	require.NoError(t, err)

	var rows []model.ExchangeConnection
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.True(t, rows[0].IsActive)

	key, secret, err := cipher.DecryptPair(rows[0].APIKeyHash, rows[0].APISecretHash)
	require.NoError(t, err)
	require.Equal(t, "key-2", key)
	require.Equal(t, "secret-2", secret)
}

func TestSetValidates(t *testing.T) {
	k := &Keys{}
	_, err := k.Set(context.Background(), 0, "k", "s")
	require.Error(t, err)
	_, err = k.Set(context.Background(), 1, "", "s")
	require.Error(t, err)
}
