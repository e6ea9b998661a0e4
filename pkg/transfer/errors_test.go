package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/store"
)

func TestClassify(t *testing.T) {
	plain := errors.New("boom")
	_, missing := os.Open(filepath.Join(t.TempDir(), "shuffle_1_1_0.data"))
	denied := &fs.PathError{Op: "open", Path: "shuffle_1_1_0.index", Err: syscall.EACCES}
	timeout := &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}
	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{"not found", fmt.Errorf("get: %w", store.ErrObjectNotFound), shuffle.ErrBlockNotFound, false},
		{"transient", fmt.Errorf("put: %w", store.ErrTransient), shuffle.ErrTransientTransport, true},
		{"store closed", store.ErrStoreClosed, shuffle.ErrClosed, false},
		{"deadline", context.DeadlineExceeded, shuffle.ErrTimeout, true},
		{"canceled", context.Canceled, shuffle.ErrCancelled, false},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, shuffle.ErrTransientTransport, true},
		{"net timeout", timeout, shuffle.ErrTransientTransport, true},
		{"missing local file", missing, fs.ErrNotExist, false},
		{"permission denied", denied, fs.ErrPermission, false},
		{"queue full", shuffle.ErrQueueFull, shuffle.ErrQueueFull, true},
		{"configuration", shuffle.ErrConfiguration, shuffle.ErrConfiguration, false},
		{"unknown", plain, plain, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err, "the original error stays in the chain")
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestClassifyKeepsTaxonomyErrors(t *testing.T) {
	err := shuffle.NewTransferError("upload", mapOutputID(1), "s3", shuffle.ErrTimeout)
	assert.Same(t, err, Classify(err))
}
