package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	defer func() {
		require.NoError(t, Configure("info", "json"))
	}()

	require.NoError(t, Configure("debug", "text"))
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, Log.Formatter)

	require.NoError(t, Configure("warn", ""))
	assert.Equal(t, logrus.WarnLevel, Log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, Log.Formatter)
}

func TestConfigure_Invalid(t *testing.T) {
	assert.Error(t, Configure("loud", "json"))
	assert.Error(t, Configure("info", "xml"))
}
