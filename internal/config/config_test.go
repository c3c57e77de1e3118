package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	content := `
chain = "regtest"
db_backend = "pebble"
cache_max_bytes = 1048576
rewind_retention = 288
txindex = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	LoadConfigs(path)

	require.Equal(t, Regtest, Chain)
	require.Equal(t, BackendPebble, DBBackend)
	require.Equal(t, uint64(1<<20), CacheMaxBytes)
	require.Equal(t, uint32(288), RewindRetention)
	require.True(t, TxIndex)
	require.Equal(t, chaincfg.RegressionNetParams.GenesisHash, ChainParams().GenesisHash)
}

func TestValidate(t *testing.T) {
	oldBackend, oldCache := DBBackend, CacheMaxBytes
	t.Cleanup(func() { DBBackend, CacheMaxBytes = oldBackend, oldCache })

	DBBackend = "rocksdb"
	require.Error(t, Validate())

	DBBackend = BackendSQLite
	CacheMaxBytes = 0
	require.Error(t, Validate())

	CacheMaxBytes = 1
	require.NoError(t, Validate())
}

func TestParseChain(t *testing.T) {
	for _, name := range []string{"main", "signet", "regtest", "testnet"} {
		require.Equal(t, name, ChainToString(ParseChain(name)))
	}
	require.Equal(t, Unknown, ParseChain("mars"))
}

func TestLoadCookie(t *testing.T) {
	oldPath, oldUser, oldPass := CookiePath, RpcUser, RpcPass
	t.Cleanup(func() { CookiePath, RpcUser, RpcPass = oldPath, oldUser, oldPass })

	CookiePath = filepath.Join(t.TempDir(), ".cookie")
	require.NoError(t, os.WriteFile(CookiePath, []byte("__cookie__:secret\n"), 0600))
	require.NoError(t, LoadCookie())
	require.Equal(t, "__cookie__", RpcUser)
	require.Equal(t, "secret", RpcPass)

	require.NoError(t, os.WriteFile(CookiePath, []byte("broken"), 0600))
	require.Error(t, LoadCookie())
}
