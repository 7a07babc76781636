package client

import (
	"context"
	"errors"
	"testing"
)

func setPriority(priority string) func([]byte) ([]byte, error) {
	return func([]byte) ([]byte, error) {
		return []byte(`[{"id":"t1","priority":"` + priority + `"}]`), nil
	}
}

func TestMutate_RollbackIsByteIdentical(t *testing.T) {
	c := NewCache(nil)
	original := []byte(`[{"id":"t1","priority":"LOW"}]`)
	c.SetRaw("tasks", original)

	serverErr := errors.New("500 internal error")
	err := Mutate(context.Background(), c, "tasks", setPriority("URGENT"), func(context.Context) error {
		// the optimistic state is visible while the request is in flight
		got, _ := c.Get("tasks")
		if string(got) != `[{"id":"t1","priority":"URGENT"}]` {
			t.Errorf("Expected optimistic state, got %s", got)
		}
		// a realtime event for the same entity arrives mid-flight
		_ = c.Update("tasks", func([]byte) ([]byte, error) {
			return []byte(`[{"id":"t1","priority":"HIGH"}]`), nil
		})
		return serverErr
	}, MsgUpdateTaskFailed)

	var failed *MutationFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Expected MutationFailedError, got %v", err)
	}
	if failed.Message != MsgUpdateTaskFailed || !errors.Is(err, serverErr) {
		t.Errorf("Unexpected error: %+v", failed)
	}

	got, _ := c.Get("tasks")
	if string(got) != string(original) {
		t.Errorf("Expected byte-identical rollback, got %s", got)
	}
}

func TestMutate_SnapshotsArePerMutation(t *testing.T) {
	c := NewCache(nil)
	c.SetRaw("tasks", []byte(`[{"id":"t1","priority":"LOW"}]`))

	// an outer mutation is in flight when an inner one starts and fails
	outerErr := Mutate(context.Background(), c, "tasks", setPriority("MEDIUM"), func(ctx context.Context) error {
		innerErr := Mutate(ctx, c, "tasks", setPriority("URGENT"), func(context.Context) error {
			return errors.New("inner failed")
		}, MsgUpdateTaskFailed)
		if innerErr == nil {
			t.Error("Expected inner mutation to fail")
		}
		got, _ := c.Get("tasks")
		if string(got) != `[{"id":"t1","priority":"MEDIUM"}]` {
			t.Errorf("Inner rollback should restore its own snapshot, got %s", got)
		}
		return errors.New("outer failed")
	}, MsgUpdateTaskFailed)

	if outerErr == nil {
		t.Fatal("Expected outer mutation to fail")
	}
	got, _ := c.Get("tasks")
	if string(got) != `[{"id":"t1","priority":"LOW"}]` {
		t.Errorf("Outer rollback should restore the original, got %s", got)
	}
}

func TestMutate_SuccessKeepsStateAndRefreshes(t *testing.T) {
	c := NewCache(nil)
	c.SetRaw("tasks", []byte(`[{"id":"t1","priority":"LOW"}]`))

	refreshed := make(chan struct{}, 1)
	c.Register("tasks", func(context.Context) (any, error) {
		refreshed <- struct{}{}
		return []map[string]string{{"id": "t1", "priority": "URGENT"}}, nil
	})

	if err := Mutate(context.Background(), c, "tasks", setPriority("URGENT"), func(context.Context) error {
		return nil
	}, MsgUpdateTaskFailed); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	<-refreshed

	got, _ := c.Get("tasks")
	if string(got) != `[{"id":"t1","priority":"URGENT"}]` {
		t.Errorf("Expected confirmed state, got %s", got)
	}
}

func TestMutate_MissingKeyStillCommits(t *testing.T) {
	c := NewCache(nil)
	committed := false
	err := Mutate(context.Background(), c, "absent", setPriority("HIGH"), func(context.Context) error {
		committed = true
		return errors.New("nope")
	}, MsgDeleteTaskFailed)

	if !committed {
		t.Error("Expected the request to run without cached state")
	}
	if err == nil || err.Error() != MsgDeleteTaskFailed+": nope" {
		t.Errorf("Unexpected error: %v", err)
	}
	if _, ok := c.Get("absent"); ok {
		t.Error("Rollback must not create a key that did not exist")
	}
}
