package importjob_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-social/perch/modules/social/domain/importjob"
)

func TestParseUploadHeaderedFollowingFile(t *testing.T) {
	data := []byte("Account address,Show boosts,Notify on new posts,Languages\n" +
		"foo@bar,true,false,\n" +
		"user@bar,false,true,\"fr, de\"\n")

	payloads, err := importjob.ParseUpload(importjob.KindFollowing, data, 0)
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "foo@bar", payloads[0].Acct)
	assert.Equal(t, []string{"fr", "de"}, payloads[1].Languages)
}

func TestParseUploadHeaderlessFollowingFile(t *testing.T) {
	payloads, err := importjob.ParseUpload(importjob.KindFollowing, []byte("foo@bar\nuser@bar\n"), 0)
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.True(t, payloads[0].ShowReblogs)
	assert.False(t, payloads[0].Notify)
}

func TestParseUploadReorderedHeaderColumns(t *testing.T) {
	data := []byte("Account address,Languages,Show boosts\nfoo@bar,fr,false\n")

	payloads, err := importjob.ParseUpload(importjob.KindFollowing, data, 0)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.False(t, payloads[0].ShowReblogs)
	assert.Equal(t, []string{"fr"}, payloads[0].Languages)
}

func TestParseUploadEmptyFile(t *testing.T) {
	_, err := importjob.ParseUpload(importjob.KindBlocking, []byte(""), 0)
	require.ErrorIs(t, err, importjob.ErrNoUsableRows)

	_, err = importjob.ParseUpload(importjob.KindBlocking, []byte("\n\n  \n"), 0)
	require.ErrorIs(t, err, importjob.ErrNoUsableRows)
}

func TestParseUploadWrongKindSchema(t *testing.T) {
	// A following export uploaded as a blocking list: every record is
	// wider than the blocking schema, so nothing decodes.
	data := []byte("Account address,Show boosts,Notify on new posts,Languages\n" +
		"foo@bar,true,false,\n")

	_, err := importjob.ParseUpload(importjob.KindBlocking, data, 0)
	require.ErrorIs(t, err, importjob.ErrNoUsableRows)
}

func TestParseUploadDropsMalformedRowsKeepsRest(t *testing.T) {
	data := []byte("foo@bar\n@\nuser@bar\n")

	payloads, err := importjob.ParseUpload(importjob.KindBlocking, data, 0)
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	assert.Equal(t, "foo@bar", payloads[0].Acct)
	assert.Equal(t, "user@bar", payloads[1].Acct)
}

func TestParseUploadRowCap(t *testing.T) {
	data := []byte(strings.Repeat("someone@example.com\n", 11))

	_, err := importjob.ParseUpload(importjob.KindBlocking, data, 10)
	require.ErrorIs(t, err, importjob.ErrTooManyRows)

	payloads, err := importjob.ParseUpload(importjob.KindBlocking, data, 11)
	require.NoError(t, err)
	assert.Len(t, payloads, 11)
}

func TestParseUploadBinaryContent(t *testing.T) {
	_, err := importjob.ParseUpload(importjob.KindBlocking, []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x01}, 0)
	require.ErrorIs(t, err, importjob.ErrUnsupportedContentType)
}

func TestParseUploadPreservesOrder(t *testing.T) {
	data := []byte("c@x\na@x\nb@x\n")

	payloads, err := importjob.ParseUpload(importjob.KindBlocking, data, 0)
	require.NoError(t, err)
	require.Len(t, payloads, 3)
	assert.Equal(t, "c@x", payloads[0].Acct)
	assert.Equal(t, "a@x", payloads[1].Acct)
	assert.Equal(t, "b@x", payloads[2].Acct)
}
