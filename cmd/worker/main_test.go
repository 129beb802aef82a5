package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.mainnet-beta.solana.com", "mainnet"},
		{"https://api.devnet.solana.com", "devnet"},
		{"https://api.testnet.solana.com", "testnet"},
		{"https://solana-mainnet.g.alchemy.com/v2/demo", "alchemy"},
		{"https://rpc.ankr.com/solana", "ankr"},
		{"https://mainnet.helius-rpc.com/?api-key=abc", "helius"},
		{"https://example.quicknode.pro/token", "quiknode"},
		{"https://rpc.example.com", "rpc.example.com"},
		{"://bad", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointLabel(tt.url))
		})
	}
}
