package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/monitoring"
	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

const progressContract = "0x00000000000000000000000000000000000000aa"

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// fakeNode answers eth_chainId and eth_call; callHandler decides each eth_call reply
func fakeNode(t *testing.T, callHandler func(w http.ResponseWriter, id json.RawMessage)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "eth_chainId":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"0x539"}`, req.ID)
		case "eth_call":
			callHandler(w, req.ID)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
		}
	}))
}

func word(v int) string {
	return fmt.Sprintf("%064x", v)
}

func dialFake(t *testing.T, url string) *EthClient {
	t.Helper()
	logger := monitoring.NewLoggerWithWriter(io.Discard, slog.LevelInfo)
	client, err := DialEth(context.Background(), EthConfig{RPCURL: url, Timeout: 5 * time.Second}, logger, monitoring.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestEthClient_GetProgressRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := fakeNode(t, func(w http.ResponseWriter, id json.RawMessage) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		result := "0x" + word(3) + word(2) + word(1)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":"%s"}`, id, result)
	})
	defer server.Close()

	client := dialFake(t, server.URL)
	progress, err := client.GetProgress(context.Background(), progressContract)
	require.NoError(t, err)

	assert.Equal(t, types.Progress{Total: 3, Voted: 2, Finalized: true}, progress)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEthClient_RevertedReadIsNotRetried(t *testing.T) {
	var calls int32
	server := fakeNode(t, func(w http.ResponseWriter, id json.RawMessage) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":3,"message":"execution reverted"}}`, id)
	})
	defer server.Close()

	client := dialFake(t, server.URL)
	_, err := client.GetProgress(context.Background(), progressContract)
	require.Error(t, err)

	appErr := apperrors.ToAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CategoryLedger, appErr.Category)
	assert.True(t, strings.Contains(strings.ToLower(err.Error()), "revert"), "got %v", err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
