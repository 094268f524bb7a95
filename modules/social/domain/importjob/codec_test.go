package importjob_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-social/perch/modules/social/domain/importjob"
)

func TestFollowingFailureReport(t *testing.T) {
	payloads := []importjob.RowPayload{
		{Acct: "foo@bar", ShowReblogs: true, Notify: false},
		{Acct: "user@bar", ShowReblogs: false, Notify: true, Languages: []string{"fr", "de"}},
	}

	var buf bytes.Buffer
	require.NoError(t, importjob.WriteFailureReport(&buf, importjob.KindFollowing, payloads))

	want := "Account address,Show boosts,Notify on new posts,Languages\n" +
		"foo@bar,true,false,\n" +
		"user@bar,false,true,\"fr, de\"\n"
	assert.Equal(t, want, buf.String())
}

func TestBlockingFailureReportHasNoHeader(t *testing.T) {
	payloads := []importjob.RowPayload{
		{Acct: "foo@bar"},
		{Acct: "user@bar"},
	}

	var buf bytes.Buffer
	require.NoError(t, importjob.WriteFailureReport(&buf, importjob.KindBlocking, payloads))
	assert.Equal(t, "foo@bar\nuser@bar\n", buf.String())
}

func TestMutingFailureReport(t *testing.T) {
	payloads := []importjob.RowPayload{
		{Acct: "foo@bar", HideNotifications: true},
		{Acct: "user@bar", HideNotifications: false},
	}

	var buf bytes.Buffer
	require.NoError(t, importjob.WriteFailureReport(&buf, importjob.KindMuting, payloads))

	want := "Account address,Hide notifications\nfoo@bar,true\nuser@bar,false\n"
	assert.Equal(t, want, buf.String())
}

func TestDomainBlockingFailureReport(t *testing.T) {
	payloads := []importjob.RowPayload{
		{Domain: "bad.example.com"},
	}

	var buf bytes.Buffer
	require.NoError(t, importjob.WriteFailureReport(&buf, importjob.KindDomainBlocking, payloads))
	assert.Equal(t, "bad.example.com\n", buf.String())
}

func TestFollowingDecodeDefaults(t *testing.T) {
	codec := importjob.CodecFor(importjob.KindFollowing)
	require.NotNil(t, codec)

	p, err := codec.Decode([]string{"foo@bar"})
	require.NoError(t, err)
	assert.Equal(t, "foo@bar", p.Acct)
	assert.True(t, p.ShowReblogs)
	assert.False(t, p.Notify)
	assert.Empty(t, p.Languages)
}

func TestFollowingDecodeExplicitValues(t *testing.T) {
	codec := importjob.CodecFor(importjob.KindFollowing)

	p, err := codec.Decode([]string{"@user@bar", "false", "true", "fr, de"})
	require.NoError(t, err)
	assert.Equal(t, "user@bar", p.Acct)
	assert.False(t, p.ShowReblogs)
	assert.True(t, p.Notify)
	assert.Equal(t, []string{"fr", "de"}, p.Languages)
}

func TestFollowingDecodeInvalidLanguageCodesDropped(t *testing.T) {
	codec := importjob.CodecFor(importjob.KindFollowing)

	p, err := codec.Decode([]string{"foo@bar", "", "", "fr, not-a-language"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fr"}, p.Languages)
}

func TestMutingDecodeDefaults(t *testing.T) {
	codec := importjob.CodecFor(importjob.KindMuting)

	p, err := codec.Decode([]string{"foo@bar"})
	require.NoError(t, err)
	assert.True(t, p.HideNotifications)

	p, err = codec.Decode([]string{"foo@bar", "false"})
	require.NoError(t, err)
	assert.False(t, p.HideNotifications)
}

func TestDecodeRejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		kind   importjob.Kind
		record []string
	}{
		{importjob.KindFollowing, []string{""}},
		{importjob.KindBlocking, []string{"   "}},
		{importjob.KindMuting, []string{""}},
		{importjob.KindDomainBlocking, []string{""}},
		{importjob.KindBookmarks, []string{""}},
		{importjob.KindLists, []string{"Friends", ""}},
		{importjob.KindLists, []string{"", "foo@bar"}},
	}

	for _, tc := range cases {
		codec := importjob.CodecFor(tc.kind)
		require.NotNil(t, codec)
		_, err := codec.Decode(tc.record)
		assert.Error(t, err, "kind %s record %v", tc.kind, tc.record)
	}
}

func TestDecodeRejectsMalformedBooleans(t *testing.T) {
	codec := importjob.CodecFor(importjob.KindFollowing)
	_, err := codec.Decode([]string{"foo@bar", "maybe"})
	require.ErrorIs(t, err, importjob.ErrMalformedField)
}

func TestListsRoundTrip(t *testing.T) {
	codec := importjob.CodecFor(importjob.KindLists)

	p, err := codec.Decode([]string{"Close friends", "foo@bar"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Close friends", "foo@bar"}, codec.Encode(p))
}
