package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ssh"
)

func TestTarget_KeyDistinguishesQuadruple(t *testing.T) {
	a := Target{Host: "h1", User: "u", Port: 22, KeyPath: "/k"}
	b := Target{Host: "h1", User: "u", Port: 2222, KeyPath: "/k"}
	assert.NotEqual(t, a.key(), b.key())
}

func TestTarget_AddrDefaultsPort22(t *testing.T) {
	assert.Equal(t, "example.com:22", Target{Host: "example.com"}.addr())
	assert.Equal(t, "example.com:2200", Target{Host: "example.com", Port: 2200}.addr())
}

func TestExecutor_ChannelHitsPoolWithoutDialing(t *testing.T) {
	e := New(time.Minute)
	defer e.Close()

	e.dialer = func(ctx context.Context, _ Target) (*ssh.Client, error) {
		panic("dialer should not be invoked when the pool already has a channel")
	}

	target := Target{Host: "h1", User: "u", Port: 22, KeyPath: "/k"}
	e.mu.Lock()
	e.pool[target.key()] = &pooledChannel{lastUsed: time.Now()}
	e.mu.Unlock()

	client, err := e.channel(context.Background(), target)
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestQuote_EscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'plain'`, quote("plain"))
	assert.Equal(t, `'it'\''s'`, quote("it's"))
}
