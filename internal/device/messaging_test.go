package device_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlab/devicesim/internal/device"
	"github.com/mirrorlab/devicesim/internal/fault"
	"github.com/mirrorlab/devicesim/internal/query"
)

func TestChat_ThreadIdentityFromParticipants(t *testing.T) {
	env := newEnv(t)

	m1, err := env.Chat().SendMessage(device.ChatInput{Sender: "me", Recipients: []string{"ana", "ben"}, Body: "hi"})
	require.NoError(t, err)
	m2, err := env.Chat().SendMessage(device.ChatInput{Sender: "ana", Recipients: []string{"ben", "me"}, Body: "hello"})
	require.NoError(t, err)

	assert.Equal(t, m1.ConversationID, m2.ConversationID,
		"same participant set resolves to the same conversation regardless of order or role")

	conv, err := env.Chat().Conversation(m1.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.MessageCount)
	assert.Equal(t, []string{"ana", "ben", "me"}, conv.Participants)
}

func TestChat_ExplicitConversationID(t *testing.T) {
	env := newEnv(t)

	m, err := env.Chat().SendMessage(device.ChatInput{
		ConversationID: "family",
		Sender:         "me",
		Recipients:     []string{"mom"},
		Body:           "dinner?",
	})
	require.NoError(t, err)
	assert.Equal(t, "family", m.ConversationID)

	_, err = env.Chat().Conversation("family")
	require.NoError(t, err)
}

func TestChat_SenderRequired(t *testing.T) {
	env := newEnv(t)
	_, err := env.Chat().SendMessage(device.ChatInput{Recipients: []string{"ana"}})
	assert.True(t, fault.IsInvalidArgument(err))
}

func TestChat_MessagesQueryBySender(t *testing.T) {
	env := newEnv(t)

	for _, sender := range []string{"me", "ana", "me"} {
		_, err := env.Chat().SendMessage(device.ChatInput{Sender: sender, Recipients: []string{"group"}, Body: "x"})
		require.NoError(t, err)
		require.NoError(t, env.AdvanceClock(time.Minute))
	}

	res, err := env.Chat().Messages(query.Spec{
		Filter: []query.Predicate{query.Equals{Field: "sender", Value: "me"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCount)
}

func TestSMS_ReadLifecycle(t *testing.T) {
	env := newEnv(t)

	sent, err := env.SMS().Send(device.SMSInput{From: "me", To: []string{"+15550100"}, Body: "on my way"})
	require.NoError(t, err)
	assert.True(t, sent.IsRead, "outbound messages are born read")
	assert.Equal(t, device.DirectionOutbound, sent.Direction)

	recv, err := env.SMS().Receive(device.SMSInput{From: "+15550100", To: []string{"me"}, Body: "ok"})
	require.NoError(t, err)
	assert.False(t, recv.IsRead, "inbound messages are born unread")
	assert.Equal(t, device.DirectionInbound, recv.Direction)

	require.NoError(t, env.SMS().MarkRead(recv.ID))
	res, err := env.SMS().Messages(query.Spec{
		Filter: []query.Predicate{query.Equals{Field: "is_read", Value: "false"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalCount)
}

func TestSMS_MarkReadUnknownID(t *testing.T) {
	env := newEnv(t)

	recv, err := env.SMS().Receive(device.SMSInput{From: "a", To: []string{"me"}, Body: "x"})
	require.NoError(t, err)

	err = env.SMS().MarkRead(recv.ID, "ghost")
	assert.True(t, fault.IsNotFound(err))

	// All-or-nothing: the known id stayed unread.
	got, err := env.SMS().Messages(query.Spec{
		Filter: []query.Predicate{query.Equals{Field: "is_read", Value: "false"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalCount)
}

func TestSMS_MarkReadIdempotent(t *testing.T) {
	env := newEnv(t)

	recv, err := env.SMS().Receive(device.SMSInput{From: "a", To: []string{"me"}, Body: "x"})
	require.NoError(t, err)

	require.NoError(t, env.SMS().MarkRead(recv.ID))
	require.NoError(t, env.SMS().MarkRead(recv.ID), "marking read twice is a no-op")
}

func TestSMS_SendReceiveShareThread(t *testing.T) {
	env := newEnv(t)

	sent, err := env.SMS().Send(device.SMSInput{From: "me", To: []string{"+15550100"}, Body: "hi"})
	require.NoError(t, err)
	recv, err := env.SMS().Receive(device.SMSInput{From: "+15550100", To: []string{"me"}, Body: "hey"})
	require.NoError(t, err)

	assert.Equal(t, sent.ThreadID, recv.ThreadID,
		"both directions of one exchange share a thread")
	assert.Len(t, env.SMS().Threads(), 1)
}

func TestSMS_Validation(t *testing.T) {
	env := newEnv(t)

	_, err := env.SMS().Send(device.SMSInput{To: []string{"x"}})
	assert.True(t, fault.IsInvalidArgument(err), "missing sender")

	_, err = env.SMS().Send(device.SMSInput{From: "me"})
	assert.True(t, fault.IsInvalidArgument(err), "missing recipients")
}

func TestEmail_ReceiveDefaults(t *testing.T) {
	env := newEnv(t)

	msg, err := env.Email().Receive(device.EmailInput{
		From: "boss@example.com", To: []string{"me@example.com"},
		Subject: "Q3 plan", Body: "see attached",
	})
	require.NoError(t, err)

	assert.Equal(t, "inbox", msg.Folder)
	assert.False(t, msg.IsRead)
}

func TestEmail_ReceiveIntoFolder(t *testing.T) {
	env := newEnv(t)

	msg, err := env.Email().Receive(device.EmailInput{
		From: "alerts@example.com", To: []string{"me@example.com"},
		Subject: "digest", Folder: "newsletters",
	})
	require.NoError(t, err)
	assert.Equal(t, "newsletters", msg.Folder)

	assert.Contains(t, env.Email().Folders(), "newsletters")
	assert.Contains(t, env.Email().Folders(), "inbox")
}

func TestEmail_SendGoesToSent(t *testing.T) {
	env := newEnv(t)

	msg, err := env.Email().Send(device.EmailInput{
		From: "me@example.com", To: []string{"ana@example.com"},
		Subject: "re: plan", Body: "lgtm",
	})
	require.NoError(t, err)

	assert.Equal(t, "sent", msg.Folder)
	assert.True(t, msg.IsRead)
}

func TestEmail_CcParticipatesInThreading(t *testing.T) {
	env := newEnv(t)

	m1, err := env.Email().Send(device.EmailInput{
		From: "me@x.io", To: []string{"ana@x.io"}, Cc: []string{"ben@x.io"}, Subject: "kickoff",
	})
	require.NoError(t, err)
	m2, err := env.Email().Receive(device.EmailInput{
		From: "ana@x.io", To: []string{"me@x.io", "ben@x.io"}, Subject: "re: kickoff",
	})
	require.NoError(t, err)

	assert.Equal(t, m1.ThreadID, m2.ThreadID)
}

func TestEmail_QueryByFolderAndText(t *testing.T) {
	env := newEnv(t)

	_, err := env.Email().Receive(device.EmailInput{From: "a@x.io", To: []string{"me@x.io"}, Subject: "invoice March"})
	require.NoError(t, err)
	_, err = env.Email().Receive(device.EmailInput{From: "b@x.io", To: []string{"me@x.io"}, Subject: "lunch"})
	require.NoError(t, err)
	_, err = env.Email().Send(device.EmailInput{From: "me@x.io", To: []string{"a@x.io"}, Subject: "re: invoice March"})
	require.NoError(t, err)

	res, err := env.Email().Messages(query.Spec{
		Filter: []query.Predicate{
			query.Equals{Field: "folder", Value: "inbox"},
			query.Contains{Value: "invoice"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
}

func TestEmail_MarkRead(t *testing.T) {
	env := newEnv(t)

	m, err := env.Email().Receive(device.EmailInput{From: "a@x.io", To: []string{"me@x.io"}, Subject: "s"})
	require.NoError(t, err)

	require.NoError(t, env.Email().MarkRead(m.ID))
	assert.True(t, fault.IsNotFound(env.Email().MarkRead("ghost")))
}
