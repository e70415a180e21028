package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-engine/internal/domain"
	"agent-engine/internal/storage"
)

func TestOrderStore_InsertUpdateGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	order := &domain.TradeOrder{
		OrderID:     "order-001",
		AgentID:     "agent-001",
		InputMint:   "MintA",
		OutputMint:  "MintB",
		AmountIn:    1_000_000_000,
		SlippageBps: 50,
		Status:      domain.OrderStatusPending,
		CreatedAt:   1700000000000,
	}

	require.NoError(t, store.Insert(ctx, order))

	order.Status = domain.OrderStatusExecuted
	order.TxSignature = "sig123"
	order.RealizedIn = 1_000_000_000
	order.RealizedOut = 1_050_000_000
	order.CompletedAt = 1700000060000
	require.NoError(t, store.Update(ctx, order))

	retrieved, err := store.GetByID(ctx, "order-001")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusExecuted, retrieved.Status)
	assert.Equal(t, "sig123", retrieved.TxSignature)
	assert.Equal(t, int64(1_050_000_000), retrieved.RealizedOut)
	assert.Equal(t, int64(50_000_000), retrieved.Profit())
}

func TestOrderStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	order := &domain.TradeOrder{OrderID: "order-dup", AgentID: "a1", InputMint: "A", OutputMint: "B", AmountIn: 1, Status: domain.OrderStatusPending, CreatedAt: 1}

	require.NoError(t, store.Insert(ctx, order))
	assert.ErrorIs(t, store.Insert(ctx, order), storage.ErrDuplicateKey)
}

func TestOrderStore_GetByAgentNewestFirst(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewOrderStore(pool)
	ctx := context.Background()

	for i, id := range []string{"o1", "o2", "o3"} {
		order := &domain.TradeOrder{
			OrderID:   id,
			AgentID:   "agent-001",
			InputMint: "A", OutputMint: "B", AmountIn: 1,
			Status:    domain.OrderStatusPending,
			CreatedAt: int64(1000 + i),
		}
		require.NoError(t, store.Insert(ctx, order))
	}

	orders, err := store.GetByAgent(ctx, "agent-001", 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o3", orders[0].OrderID)
	assert.Equal(t, "o2", orders[1].OrderID)
}
