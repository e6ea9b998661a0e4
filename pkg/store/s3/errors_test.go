package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittoshuffle/pkg/store"
)

func TestWrapErrClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, store.ErrTransient},
		{"throttling", &smithy.GenericAPIError{Code: "Throttling"}, store.ErrTransient},
		{"internal", &smithy.GenericAPIError{Code: "InternalError"}, store.ErrTransient},
		{"request timeout", &smithy.GenericAPIError{Code: "RequestTimeout"}, store.ErrTransient},
		{"no such key", &types.NoSuchKey{}, store.ErrObjectNotFound},
		{"not found code", &smithy.GenericAPIError{Code: "NotFound"}, store.ErrObjectNotFound},
		{"invalid range", &smithy.GenericAPIError{Code: "InvalidRange"}, store.ErrInvalidRange},
		{"connection reset", errors.New("read tcp: connection reset by peer"), store.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapErr("get", "k", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err, "original error stays in the chain")
		})
	}
}

func TestWrapErrFatal(t *testing.T) {
	for _, err := range []error{
		&smithy.GenericAPIError{Code: "AccessDenied"},
		&smithy.GenericAPIError{Code: "InvalidAccessKeyId"},
		fmt.Errorf("op: %w", context.DeadlineExceeded),
		context.Canceled,
	} {
		wrapped := wrapErr("put", "k", err)
		assert.NotErrorIs(t, wrapped, store.ErrTransient)
		assert.NotErrorIs(t, wrapped, store.ErrObjectNotFound)
	}
}

func TestNewClampsPartSize(t *testing.T) {
	s := New(nil, Config{Bucket: "b", MultipartSize: 1024})
	assert.Equal(t, int64(minPartSize), s.partSize)
	assert.Equal(t, MultipartDisk, s.partType)

	s = New(nil, Config{Bucket: "b", MultipartType: MultipartArray})
	assert.Equal(t, int64(defaultPartSize), s.partSize)
	assert.Equal(t, MultipartArray, s.partType)
	assert.Equal(t, "s3", s.Type())
}

func TestValidationBeforeNetwork(t *testing.T) {
	s := New(nil, Config{Bucket: "b"})
	ctx := context.Background()

	_, err := s.GetObject(ctx, "/abs", nil)
	assert.ErrorIs(t, err, store.ErrInvalidKey)

	rc, err := s.GetObject(ctx, "k", &store.Range{Offset: 5})
	assert.NoError(t, err)
	assert.NoError(t, rc.Close())

	assert.NoError(t, s.Close())
	_, err = s.StatObject(ctx, "k")
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}
