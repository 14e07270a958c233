package s3

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thill/klstore/backend"
)

func TestConfigRegisterFlagsAndApplyDefaults(t *testing.T) {
	cfg := Config{}
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	cfg.RegisterFlagsAndApplyDefaults("backend", fs)

	require.Equal(t, "us-east-1", cfg.Region)
	require.True(t, cfg.UseDefaultCredentials)
	require.False(t, cfg.PathStyle)
}

func TestConfigValidateRequiresBucket(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	require.ErrorIs(t, err, errConfigInvalid)

	cfg.BucketName = "my-bucket"
	require.NoError(t, cfg.Validate())
}

func TestFormatRange(t *testing.T) {
	require.Equal(t, "bytes=0-", formatRange(backend.ByteRange{Start: 0, End: -1}))
	require.Equal(t, "bytes=10-20", formatRange(backend.ByteRange{Start: 10, End: 20}))
}
