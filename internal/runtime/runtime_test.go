package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouimet-infinisoft/ibrain2024/internal/config"
	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

func TestOpenRegistersQueuesAndChecksHealth(t *testing.T) {
	rt, err := Open(Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  config.Default(),
		Logger:  log.NewLogger(log.WithLevel(log.FatalLevel)),
	})
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.CheckHealth(context.Background()))
	for _, name := range rt.Queues() {
		_, ok := rt.Tasks().Config(name)
		assert.True(t, ok, name)
	}
	assert.NotNil(t, rt.Store())
	assert.NotNil(t, rt.DB())
}

func TestOpenIntervalFsync(t *testing.T) {
	rt, err := Open(Options{
		DataDir:       t.TempDir(),
		Fsync:         pebblestore.FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
		Config:        config.Default(),
		Logger:        log.NewLogger(log.WithLevel(log.FatalLevel)),
	})
	require.NoError(t, err)
	defer rt.Close()
	require.NoError(t, rt.CheckHealth(context.Background()))
}

func TestOpenRequiresDataDir(t *testing.T) {
	_, err := Open(Options{Config: config.Default(), Logger: log.NewLogger(log.WithLevel(log.FatalLevel))})
	require.Error(t, err)
}
