package flaky

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/pkg/contract"
)

// UT-FLK-01: 前 N 次 Open 失败，之后成功
func TestFailTimesThenSucceed(t *testing.T) {
	s, err := New(&Options{FailTimes: 2, Inline: "1|a|b;"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.Open(context.Background())
		require.ErrorIs(t, err, contract.ErrConnection)
	}
	rc, err := s.Open(context.Background())
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "1|a|b;", string(b))
	assert.Equal(t, 3, s.Attempts())
}

// UT-FLK-02: 读中途断开
func TestFailAfterBytes(t *testing.T) {
	s, err := New(&Options{FailTimes: 1, FailAfterBytes: 3, Inline: "abcdef"})
	require.NoError(t, err)
	rc, err := s.Open(context.Background())
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, "abc", string(b))

	rc, err = s.Open(context.Background())
	require.NoError(t, err)
	b, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(b))
}

func TestNewInvalid(t *testing.T) {
	_, err := New(&Options{FailTimes: -1})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestCanceled(t *testing.T) {
	s, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Attempts())
}
