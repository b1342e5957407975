package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felo/emailparser/internal/parser"
)

const twoQuotes = `{
  "quotes": [
    {
      "check": {"isSuccess": true},
      "contract": {
        "clientWay": "Buy", "currency": "USD", "isinCode": "US0378331005",
        "securityCode": "AAPL", "notional": 10000, "price": 150,
        "tradeDate": "2024-01-01T00:00", "settlementDate": "2024-01-03T00:00",
        "schemaIdentifier": "SCHEMA_ID_0", "schemaType": "EQUITY", "schemaVersion": "1.0",
        "solveHeader": "SOLVE_HEADER_0"
      }
    },
    {
      "check": {
        "isSuccess": false,
        "errors": [{"code": 10100, "fields": [{"initialName": "output_json_clientWay", "modelName": "clientWay"}]}],
        "message": "Failed to predict the output fields",
        "messageToDisplay": "Could not read the trade side",
        "type": "Solving error"
      },
      "contract": {"clientWay": "", "currency": "", "notional": null}
    }
  ]
}`

func testMessage() *parser.NormalizedMessage {
	return &parser.NormalizedMessage{
		From:    "trader1@bank.com",
		To:      []string{"ops@bank.com"},
		Subject: "Trade Confirmation - AAPL",
		Body:    "Please execute.",
	}
}

// recordingServer answers every request with status and body and keeps the decoded requests
type recordingServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []Request
}

func newRecordingServer(t *testing.T, status int, body string) *recordingServer {
	t.Helper()

	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		rs.mu.Lock()
		rs.requests = append(rs.requests, req)
		rs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) Requests() []Request {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]Request(nil), rs.requests...)
}

func TestSubmit_MapsQuotes(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, twoQuotes)
	client := NewClient(srv.URL)

	results, err := client.Submit(context.Background(), testMessage())

	require.NoError(t, err)
	require.Len(t, results, 2)

	ok := results[0]
	assert.True(t, ok.Success)
	require.NotNil(t, ok.Contract)
	assert.Equal(t, "Buy", ok.Contract.ClientWay)
	assert.Equal(t, "AAPL", ok.Contract.SecurityCode)
	require.NotNil(t, ok.Contract.Price)
	assert.Equal(t, 150.0, *ok.Contract.Price)
	assert.Nil(t, ok.Contract.Quantity, "Absent quantity stays absent")

	failed := results[1]
	assert.False(t, failed.Success)
	assert.Nil(t, failed.Contract, "Contract is only kept on success")
	assert.Equal(t, "Could not read the trade side", failed.Message)
	assert.Equal(t, []ResultError{{Code: 10100, Fields: []string{"clientWay"}}}, failed.Errors)
}

func TestSubmit_RequestPayload(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{"quotes": []}`)
	client := NewClient(srv.URL, WithModel("custom_model"))

	_, err := client.Submit(context.Background(), testMessage())
	require.NoError(t, err)
	_, err = client.Submit(context.Background(), testMessage())
	require.NoError(t, err)

	requests := srv.Requests()
	require.Len(t, requests, 2)
	req := requests[0]
	assert.Equal(t, "custom_model", req.Model)
	assert.Equal(t, "trader1@bank.com", req.From)
	assert.Equal(t, []string{"ops@bank.com"}, req.To)
	assert.Equal(t, []string{}, req.Cc, "Nil cc is sent as an empty list")
	assert.Equal(t, "Trade Confirmation - AAPL", req.Subject)
	assert.Equal(t, "Please execute.", req.HTMLPart)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}$`), req.TimeReceived)
	assert.NotEmpty(t, req.UniqueID)
	assert.NotEqual(t, req.UniqueID, requests[1].UniqueID, "Correlation id must be fresh per call")
}

func TestSubmit_EmptyResults(t *testing.T) {
	for _, body := range []string{`{"quotes": []}`, `{"quotes": null}`, `{}`, ``} {
		t.Run(body, func(t *testing.T) {
			srv := newRecordingServer(t, http.StatusOK, body)

			results, err := NewClient(srv.URL).Submit(context.Background(), testMessage())

			require.NoError(t, err, "No quotes is not an error")
			assert.NotNil(t, results)
			assert.Empty(t, results)
		})
	}
}

func TestSubmit_ErrorStatus(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := newRecordingServer(t, status, "model exploded\n")

			results, err := NewClient(srv.URL).Submit(context.Background(), testMessage())

			require.Error(t, err)
			assert.Nil(t, results)
			assert.ErrorIs(t, err, ErrUpstream)

			var upstream *UpstreamError
			require.True(t, errors.As(err, &upstream))
			assert.Equal(t, status, upstream.StatusCode)
			assert.Equal(t, "model exploded", upstream.Body)
			assert.Contains(t, err.Error(), "model exploded")
		})
	}
}

func TestSubmit_UndecodableBody(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{"quotes": "nope"}`)

	_, err := NewClient(srv.URL).Submit(context.Background(), testMessage())

	assert.ErrorIs(t, err, ErrUpstream)
}

func TestSubmit_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Submit(context.Background(), testMessage())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Zero(t, upstream.StatusCode)
	assert.NotNil(t, upstream.Err)
}

func blockingServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmit_Timeout(t *testing.T) {
	srv := blockingServer(t)
	client := NewClient(srv.URL, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := client.Submit(context.Background(), testMessage())

	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestSubmit_Cancelled(t *testing.T) {
	srv := blockingServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := NewClient(srv.URL).Submit(ctx, testMessage())

	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubmit_RateLimited(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{"quotes": []}`)
	client := NewClient(srv.URL, WithRateLimit(0.001, 1), WithTimeout(100*time.Millisecond))

	_, err := client.Submit(context.Background(), testMessage())
	require.NoError(t, err, "Burst allows the first call")

	_, err = client.Submit(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrUpstream, "Second call cannot get a token before the deadline")
	assert.Len(t, srv.Requests(), 1)
}

func TestUpstreamError_Message(t *testing.T) {
	assert.Equal(t, "AI server error: 500 - boom", (&UpstreamError{StatusCode: 500, Body: "boom"}).Error())
	assert.Equal(t, "AI server error: dial failed", (&UpstreamError{Err: errors.New("dial failed")}).Error())
	assert.False(t, errors.Is(errors.New("other"), ErrUpstream))
}
