package finalize

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutorRun(t *testing.T) {
	e := NewExecutor(context.Background())
	require.NoError(t, e.Run(exec.Command("true")))

	err := e.Run(exec.Command("false"))
	require.ErrorContains(t, err, "[false]")
}

func TestExecutorCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewExecutor(ctx).Run(exec.Command("sleep", "10"))
	require.ErrorContains(t, err, "command aborted")
	require.Less(t, time.Since(start), 5*time.Second)
}
