package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/personamesh/core"
)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()

	var out []Response
	for r := range respCh {
		out = append(out, r)
	}

	return out, <-errCh
}

func TestScriptedModel_RepliesInOrder(t *testing.T) {
	m := NewScriptedModel("one", "two")

	req := Request{Messages: []core.Message{core.NewUserMessage("hi", core.SystemClock())}}

	for _, want := range []string{"one", "two"} {
		respCh, errCh := m.Generate(context.Background(), req)
		out, err := collect(t, respCh, errCh)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, want, out[0].Text)
		assert.False(t, out[0].Partial)
	}

	assert.Len(t, m.Requests(), 2)
	assert.Equal(t, 0, m.Remaining())

	respCh, errCh := m.Generate(context.Background(), req)
	_, err := collect(t, respCh, errCh)
	require.Error(t, err)
}

func TestScriptedModel_Streaming(t *testing.T) {
	m := NewScriptedModel("hello big world")

	respCh, errCh := m.Generate(context.Background(), Request{Stream: true})
	out, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, "hello ", out[0].Text)
	assert.True(t, out[2].Partial)
	assert.Equal(t, "hello big world", out[3].Text)
	assert.False(t, out[3].Partial)
}

func TestScriptedModel_FailAndFallback(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedModel().Fail(boom).Fallback(func(req Request) string {
		return fmt.Sprintf("echo %d", len(req.Messages))
	})

	respCh, errCh := m.Generate(context.Background(), Request{})
	_, err := collect(t, respCh, errCh)
	assert.ErrorIs(t, err, boom)

	respCh, errCh = m.Generate(context.Background(), Request{Messages: make([]core.Message, 2)})
	out, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, "echo 2", out[0].Text)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Transient(errors.New("503"))))
	assert.False(t, IsTransient(errors.New("400")))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(Transient(context.Canceled)))
	assert.Nil(t, Transient(nil))
}
