package kv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-tsurugi/sqlengine/pkg/errs"
)

func TestStatusCodeToErrCodeClassification(t *testing.T) {
	require.Equal(t, errs.None, StatusOK.ToErrCode())
	require.Equal(t, errs.ClassWarning, StatusNotFound.ToErrCode().Class())
	require.Equal(t, errs.ClassWarning, StatusAlreadyExists.ToErrCode().Class())
	require.Equal(t, errs.ClassRecoverable, StatusErrConflictOnWritePreserve.ToErrCode().Class())
	require.Equal(t, errs.ClassRecoverable, StatusErrInactiveTransaction.ToErrCode().Class())
}

func TestStatusCodeString(t *testing.T) {
	require.Equal(t, "ok", StatusOK.String())
	require.Equal(t, "err_invalid_key_length", StatusErrInvalidKeyLength.String())
}
