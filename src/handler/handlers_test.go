package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"tradejournal/src/model"
	"tradejournal/src/stream"
)

type staticStreams []stream.Status

func (s staticStreams) List() []stream.Status { return s }

func TestStreamsHandler_InvalidUser(t *testing.T) {
	handler := StreamsHandler(staticStreams{})

	req := httptest.NewRequest(http.MethodGet, "/streams?userId=abc", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestStreamsHandler_Filters(t *testing.T) {
	handler := StreamsHandler(staticStreams{
		{ConnectionID: 1, UserID: 7, State: stream.StateSubscribed},
		{ConnectionID: 2, UserID: 7, State: stream.StateFailed},
		{ConnectionID: 3, UserID: 8, State: stream.StateSubscribed},
	})

	req := httptest.NewRequest(http.MethodGet, "/streams?userId=7&state=subscribed", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var got []stream.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	assert.Len(t, got, 1)
	assert.Equal(t, uint(1), got[0].ConnectionID)
}

func TestStreamsHandler_EmptyIsArray(t *testing.T) {
	rr := httptest.NewRecorder()
	StreamsHandler(staticStreams{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/streams", nil))
	assert.JSONEq(t, "[]", rr.Body.String())
}

type mockStructureReader struct {
	ms          *model.MarketStructure
	err         error
	symbol      string
	timeframe   string
	calledCount int
}

func (m *mockStructureReader) Latest(_ context.Context, symbol, timeframe string) (*model.MarketStructure, error) {
	m.calledCount++
	m.symbol = symbol
	m.timeframe = timeframe
	return m.ms, m.err
}

func TestStructureHandler_BadRequests(t *testing.T) {
	for _, target := range []string{
		"/structure",
		"/structure?symbol=BTCUSDT&timeframe=3m",
		"/structure?symbol=BTCUSDT&entry=-1&side=buy",
		"/structure?symbol=BTCUSDT&entry=100",
	} {
		repo := &mockStructureReader{}
		rr := httptest.NewRecorder()
		StructureHandler(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", target, rr.Code)
		}
		if repo.calledCount != 0 {
			t.Fatalf("%s: repository should not be called", target)
		}
	}
}

func TestStructureHandler_NotFoundAndError(t *testing.T) {
	rr := httptest.NewRecorder()
	StructureHandler(&mockStructureReader{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/structure?symbol=BTCUSDT", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	StructureHandler(&mockStructureReader{err: assert.AnError}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/structure?symbol=BTCUSDT", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestStructureHandler_Success(t *testing.T) {
	repo := &mockStructureReader{ms: &model.MarketStructure{
		Symbol:       "BTCUSDT",
		Timeframe:    model.Timeframe4h,
		Bias:         model.BiasBullish,
		BiasStrength: 1,
	}}

	req := httptest.NewRequest(http.MethodGet, "/structure?symbol=BTCUSDT&timeframe=4h&side=Buy&entry=100", nil)
	rr := httptest.NewRecorder()
	StructureHandler(repo).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	assert.Equal(t, "BTCUSDT", repo.symbol)
	assert.Equal(t, model.Timeframe4h, repo.timeframe)

	var got structureResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	assert.Equal(t, model.BiasBullish, got.Structure.Bias)
	if assert.NotNil(t, got.Score) {
		assert.True(t, got.Score.BiasAligned)
		assert.Equal(t, 4.0, got.Score.Total)
	}
}
