package kmyth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SociOS-Linux/kmyth"
	"github.com/SociOS-Linux/kmyth/internal/fakesim"
)

func TestSession_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	crypto := kmyth.StandardCrypto{}
	tpm := fakesim.New(crypto)

	sess, err := kmyth.StartSession(ctx, tpm, tpm, crypto, nil, kmyth.SessionTypeTrial, kmyth.HandleNull, kmyth.HandleNull, nil, kmyth.AlgorithmSHA256)
	require.NoError(t, err)

	require.NoError(t, sess.Close(ctx))
	require.NoError(t, sess.Close(ctx))
}

func TestSession_ExchangeAfterCloseIsInternalError(t *testing.T) {
	ctx := context.Background()
	crypto := kmyth.StandardCrypto{}
	tpm := fakesim.New(crypto)

	sess, err := kmyth.StartSession(ctx, tpm, tpm, crypto, nil, kmyth.SessionTypeTrial, kmyth.HandleNull, kmyth.HandleNull, nil, kmyth.AlgorithmSHA256)
	require.NoError(t, err)
	require.NoError(t, sess.Close(ctx))

	_, err = sess.Exchange(ctx, kmyth.CommandUnseal, kmyth.HandleNull, nil, nil, nil, kmyth.AttrContinueSession, nil)
	require.Error(t, err)
	assert.True(t, kmyth.IsKind(err, kmyth.KindInternal))
}
