package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fademail/backend/internal/domain"
)

func newMailbox(id, address, sessionID string, expiresAt time.Time) *domain.Mailbox {
	return &domain.Mailbox{
		ID:        id,
		Address:   address,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		Active:    true,
	}
}

func TestStore_SaveMailbox(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	t.Run("保存并按地址查找", func(t *testing.T) {
		require.NoError(t, store.SaveMailbox(newMailbox("mb-1", "foo@fade.mail", "s1", now.Add(time.Hour))))

		found, err := store.GetActiveMailboxByAddress("foo@fade.mail", now)
		require.NoError(t, err)
		assert.Equal(t, "mb-1", found.ID)
		assert.Equal(t, "s1", found.SessionID)
	})

	t.Run("地址冲突返回ErrAddressConflict", func(t *testing.T) {
		err := store.SaveMailbox(newMailbox("mb-2", "foo@fade.mail", "s2", now.Add(time.Hour)))
		assert.ErrorIs(t, err, domain.ErrAddressConflict)
	})

	t.Run("过期邮箱按地址查不到", func(t *testing.T) {
		require.NoError(t, store.SaveMailbox(newMailbox("mb-3", "old@fade.mail", "s1", now.Add(-time.Minute))))

		_, err := store.GetActiveMailboxByAddress("old@fade.mail", now)
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
	})

	t.Run("停用邮箱按地址查不到", func(t *testing.T) {
		require.NoError(t, store.SaveMailbox(newMailbox("mb-4", "off@fade.mail", "s1", now.Add(time.Hour))))
		require.NoError(t, store.DeactivateMailbox("mb-4"))

		_, err := store.GetActiveMailboxByAddress("off@fade.mail", now)
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
	})
}

func TestStore_GetMailboxForSession(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.SaveMailbox(newMailbox("mb-1", "foo@fade.mail", "owner", now.Add(time.Hour))))

	t.Run("会话匹配", func(t *testing.T) {
		found, err := store.GetMailboxForSession("foo@fade.mail", "owner", now)
		require.NoError(t, err)
		assert.Equal(t, "mb-1", found.ID)
	})

	t.Run("会话不匹配视为不存在", func(t *testing.T) {
		_, err := store.GetMailboxForSession("foo@fade.mail", "intruder", now)
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
	})
}

func TestStore_Messages(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.SaveMailbox(newMailbox("mb-1", "foo@fade.mail", "s1", now.Add(time.Hour))))

	sourceID := "<abc@origin>"

	t.Run("保存邮件", func(t *testing.T) {
		err := store.SaveMessage(&domain.Message{
			ID:              "msg-1",
			MailboxID:       "mb-1",
			SourceMessageID: &sourceID,
			Sender:          "a@b.com",
			Subject:         "Hi",
			BodyText:        "body",
			ReceivedAt:      now,
		})
		require.NoError(t, err)
	})

	t.Run("SourceMessageID去重", func(t *testing.T) {
		err := store.SaveMessage(&domain.Message{
			ID:              "msg-2",
			MailboxID:       "mb-1",
			SourceMessageID: &sourceID,
			ReceivedAt:      now,
		})
		assert.ErrorIs(t, err, domain.ErrDuplicateMessage)
	})

	t.Run("无SourceMessageID不参与去重", func(t *testing.T) {
		err := store.SaveMessage(&domain.Message{
			ID:         "msg-3",
			MailboxID:  "mb-1",
			ReceivedAt: now.Add(time.Second),
		})
		require.NoError(t, err)

		err = store.SaveMessage(&domain.Message{
			ID:         "msg-4",
			MailboxID:  "mb-1",
			ReceivedAt: now.Add(2 * time.Second),
		})
		require.NoError(t, err)
	})

	t.Run("列表按接收时间倒序", func(t *testing.T) {
		messages, err := store.ListMessages("mb-1")
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, "msg-4", messages[0].ID)
		assert.Equal(t, "msg-3", messages[1].ID)
		assert.Equal(t, "msg-1", messages[2].ID)
	})

	t.Run("目标邮箱不存在报错", func(t *testing.T) {
		err := store.SaveMessage(&domain.Message{ID: "msg-x", MailboxID: "missing"})
		assert.ErrorIs(t, err, domain.ErrMailboxNotFound)
	})
}

func TestStore_MarkMessageRead(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()
	require.NoError(t, store.SaveMailbox(newMailbox("mb-1", "foo@fade.mail", "owner", now.Add(time.Hour))))
	require.NoError(t, store.SaveMessage(&domain.Message{ID: "msg-1", MailboxID: "mb-1", ReceivedAt: now}))

	t.Run("非所有者会话静默跳过", func(t *testing.T) {
		require.NoError(t, store.MarkMessageRead("msg-1", "intruder"))

		messages, err := store.ListMessages("mb-1")
		require.NoError(t, err)
		assert.False(t, messages[0].IsRead)
	})

	t.Run("所有者会话生效", func(t *testing.T) {
		require.NoError(t, store.MarkMessageRead("msg-1", "owner"))

		messages, err := store.ListMessages("mb-1")
		require.NoError(t, err)
		assert.True(t, messages[0].IsRead)
	})

	t.Run("邮件不存在静默跳过", func(t *testing.T) {
		assert.NoError(t, store.MarkMessageRead("missing", "owner"))
	})
}

func TestStore_DeleteExpiredMailboxes(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	// 3 个过期、1 个停用、2 个存活
	require.NoError(t, store.SaveMailbox(newMailbox("e1", "e1@fade.mail", "s1", now.Add(-time.Minute))))
	require.NoError(t, store.SaveMailbox(newMailbox("e2", "e2@fade.mail", "s1", now.Add(-time.Hour))))
	require.NoError(t, store.SaveMailbox(newMailbox("e3", "e3@fade.mail", "s2", now)))
	require.NoError(t, store.SaveMailbox(newMailbox("d1", "d1@fade.mail", "s2", now.Add(time.Hour))))
	require.NoError(t, store.DeactivateMailbox("d1"))
	require.NoError(t, store.SaveMailbox(newMailbox("l1", "l1@fade.mail", "s3", now.Add(time.Hour))))
	require.NoError(t, store.SaveMailbox(newMailbox("l2", "l2@fade.mail", "s3", now.Add(2*time.Hour))))

	sourceID := "<keep@origin>"
	require.NoError(t, store.SaveMessage(&domain.Message{ID: "m-e1", MailboxID: "e1", ReceivedAt: now}))
	require.NoError(t, store.SaveMessage(&domain.Message{ID: "m-l1", MailboxID: "l1", SourceMessageID: &sourceID, ReceivedAt: now}))

	deleted, err := store.DeleteExpiredMailboxes(now)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	// 存活邮箱与其邮件不受影响
	messages, err := store.ListMessages("l1")
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	// 被删邮箱的邮件级联清理
	messages, err = store.ListMessages("e1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	// 地址释放后可重新分配
	require.NoError(t, store.SaveMailbox(newMailbox("e1-new", "e1@fade.mail", "s9", now.Add(time.Hour))))

	// 清理幂等
	deleted, err = store.DeleteExpiredMailboxes(now)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestStore_Sessions(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	require.NoError(t, store.UpsertSession(&domain.Session{
		ID:             "s1",
		CreatedAt:      now,
		LastActivityAt: now,
		IPAddress:      "10.0.0.1",
	}))

	later := now.Add(time.Minute)
	require.NoError(t, store.UpsertSession(&domain.Session{
		ID:             "s1",
		CreatedAt:      later,
		LastActivityAt: later,
		IPAddress:      "10.0.0.2",
	}))

	session, err := store.GetSession("s1")
	require.NoError(t, err)
	// Upsert 只刷新活动时间与 IP，不重置创建时间
	assert.Equal(t, now, session.CreatedAt)
	assert.Equal(t, later, session.LastActivityAt)
	assert.Equal(t, "10.0.0.2", session.IPAddress)

	_, err = store.GetSession("missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
