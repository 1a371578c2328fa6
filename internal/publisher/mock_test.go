package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSendEventRecordsBatch(t *testing.T) {
	m := NewMock(nil)
	err := m.SendEvent(context.Background(), []Event{{RoutingKey: "rk", Body: []byte("{}")}})
	require.NoError(t, err)
	assert.Len(t, m.Sent(), 1)
}

func TestMockSendEventFailsOnDemand(t *testing.T) {
	m := NewMock(nil)
	m.FailNext = 1
	m.FailErr = errors.New("broker unavailable")

	err := m.SendEvent(context.Background(), []Event{{RoutingKey: "rk", Body: []byte("{}")}})
	require.Error(t, err)
	assert.Empty(t, m.Sent())

	err = m.SendEvent(context.Background(), []Event{{RoutingKey: "rk", Body: []byte("{}")}})
	require.NoError(t, err)
	assert.Len(t, m.Sent(), 1)
}

func TestMockCloseIsIdempotent(t *testing.T) {
	m := NewMock(nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}

func TestMockSendEventEmptyBatchNoOp(t *testing.T) {
	m := NewMock(nil)
	require.NoError(t, m.SendEvent(context.Background(), nil))
	assert.Empty(t, m.Sent())
}
