package modbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	if _, err := NewPool(""); err == nil {
		t.Error("Expected error for empty address")
	}

	pool, err := NewPool("localhost:502", WithSize(5))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	if stats := pool.Stats(); stats.Size != 5 || stats.Created != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestPoolIntegration(t *testing.T) {
	mem := NewDeviceMemory(DefaultSizes())
	mem.SetRegisters(HoldingRegisters, 0, []uint16{1234})
	_, addr := startServer(t, mem)

	pool, err := NewPool(addr, WithSize(2), WithClientOptions(WithUnitID(1), WithLogger(quietLogger())))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = pool.Do(ctx, func(c *Client) error {
		regs, err := c.ReadHoldingRegisters(ctx, 0, 1)
		if err != nil {
			return err
		}
		if regs[0] != 1234 {
			t.Errorf("Register: expected 1234, got %d", regs[0])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	// Second use hits the idle client.
	if err := pool.Do(ctx, func(*Client) error { return nil }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	stats := pool.Stats()
	if stats.Gets != 2 || stats.Hits != 1 || stats.Created != 1 || stats.Available != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestPoolExhausted(t *testing.T) {
	_, addr := startServer(t, NewDeviceMemory(DefaultSizes()))

	pool, _ := NewPool(addr, WithSize(1), WithClientOptions(WithLogger(quietLogger())))
	defer pool.Close()

	ctx := context.Background()
	c, err := pool.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := pool.Get(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if pool.Metrics().Timeouts.Value() != 1 {
		t.Error("Timeout should be counted")
	}

	pool.Put(c)
	c2, err := pool.Get(ctx)
	if err != nil {
		t.Fatalf("Get after Put failed: %v", err)
	}
	if c2 != c {
		t.Error("Expected the returned client to be reused")
	}
	pool.Put(c2)
}

func TestPoolWaiterWokenByDroppedClient(t *testing.T) {
	_, addr := startServer(t, NewDeviceMemory(DefaultSizes()))

	pool, _ := NewPool(addr, WithSize(1), WithClientOptions(WithLogger(quietLogger())))
	defer pool.Close()

	ctx := context.Background()
	c, err := pool.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		c2, err := pool.Get(ctx)
		if err == nil {
			pool.Put(c2)
		}
		got <- err
	}()

	// A disconnected client is dropped on Put, which frees its slot.
	time.Sleep(20 * time.Millisecond)
	c.Close()
	pool.Put(c)

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("Waiting Get failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Waiting Get was not woken by the freed slot")
	}
	if created := pool.Metrics().Created.Value(); created != 2 {
		t.Errorf("Expected 2 dials, got %d", created)
	}
}

func TestPoolClosed(t *testing.T) {
	pool, _ := NewPool("127.0.0.1:1")
	pool.Close()

	if _, err := pool.Get(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestPoolDialFailure(t *testing.T) {
	pool, _ := NewPool("127.0.0.1:1", WithClientOptions(WithTimeout(200*time.Millisecond), WithLogger(quietLogger())))
	defer pool.Close()

	if _, err := pool.Get(context.Background()); err == nil {
		t.Fatal("Expected dial error")
	}
	if pool.Stats().Created != 0 {
		t.Error("Failed dial must not count as created")
	}
}
