package backtest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

func TestEventLog_RecordsInOrder(t *testing.T) {
	log := &backtest.EventLog{}
	now := time.Now()
	log.Record(now, backtest.EventPositionOpened, "opened", nil)
	log.Record(now.Add(time.Minute), backtest.EventPositionClosed, "closed", map[string]string{"reason": "take_profit"})

	events := log.Events()
	require.Len(t, events, 2)
	assert.Equal(t, backtest.EventPositionOpened, events[0].Kind)
	assert.Equal(t, backtest.EventPositionClosed, events[1].Kind)
	assert.Equal(t, "take_profit", events[1].Fields["reason"])
}

func TestEventLog_EmptyByDefault(t *testing.T) {
	log := &backtest.EventLog{}
	assert.Empty(t, log.Events())
}
