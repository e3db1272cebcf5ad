package chatclient

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func textOptimistic(sender, content, token string, at time.Time) Optimistic {
	return Optimistic{SenderID: sender, Kind: KindText, Content: content, ClientToken: token, CreatedAt: at}
}

func serverText(id, sender, content, token string, at time.Time) Message {
	return Message{ID: id, ConversationID: "conv_1", SenderID: sender, Kind: KindText, Content: content, ClientToken: token, CreatedAt: at}
}

func TestOptimisticTransitions(t *testing.T) {
	set := NewOptimisticSet()
	a := set.Add(textOptimistic("usr_1", "hi", "tok-a", t0))
	assert.Equal(t, "local-1", a.LocalID)
	assert.Equal(t, StatusSending, a.Status)

	assert.False(t, set.MarkSending(a.LocalID), "sending entries cannot be resent")
	assert.True(t, set.MarkFailed(a.LocalID, errors.New("boom")))
	assert.False(t, set.MarkSent(a.LocalID), "failed entries are not sent")

	got, ok := set.Get(a.LocalID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	assert.EqualError(t, got.Err, "boom")

	assert.True(t, set.MarkSending(a.LocalID))
	assert.True(t, set.MarkSent(a.LocalID))
	got, _ = set.Get(a.LocalID)
	assert.Equal(t, StatusSent, got.Status)
	assert.NoError(t, got.Err)

	set.Retire(a.LocalID)
	assert.Equal(t, 0, set.Len())
}

func TestReconcileByClientToken(t *testing.T) {
	set := NewOptimisticSet()
	a := set.Add(textOptimistic("usr_1", "hello", "tok-a", t0))
	b := set.Add(textOptimistic("usr_1", "hello", "tok-b", t0))
	set.MarkFailed(a.LocalID, errors.New("timeout"))

	// The failed send actually landed; its token proves it.
	retired := set.Reconcile([]Message{serverText("msg_1", "usr_1", "hello", "tok-a", t0.Add(time.Minute))})
	assert.Equal(t, []string{a.LocalID}, retired)

	pending := set.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, b.LocalID, pending[0].LocalID)
}

func TestReconcileIdenticalSendsStayDistinct(t *testing.T) {
	set := NewOptimisticSet()
	first := set.Add(textOptimistic("usr_1", "ok", "", t0))
	second := set.Add(textOptimistic("usr_1", "ok", "", t0.Add(time.Second)))
	set.MarkSent(first.LocalID)
	set.MarkSent(second.LocalID)

	one := []Message{serverText("msg_1", "usr_1", "ok", "", t0.Add(200*time.Millisecond))}
	retired := set.Reconcile(one)
	assert.Equal(t, []string{first.LocalID}, retired)
	require.Equal(t, 1, set.Len())

	// The same server message seen again must not swallow the second send.
	assert.Empty(t, set.Reconcile(one))
	assert.Equal(t, 1, set.Len())

	both := append(one, serverText("msg_2", "usr_1", "ok", "", t0.Add(1200*time.Millisecond)))
	assert.Equal(t, []string{second.LocalID}, set.Reconcile(both))
	assert.Equal(t, 0, set.Len())
}

func TestReconcileContentRules(t *testing.T) {
	cases := []struct {
		name    string
		local   Optimistic
		failed  bool
		server  Message
		retired bool
	}{
		{
			name:    "same text inside window",
			local:   textOptimistic("usr_1", "hi", "", t0),
			server:  serverText("msg_1", "usr_1", "hi", "", t0.Add(9*time.Second)),
			retired: true,
		},
		{
			name:   "outside window",
			local:  textOptimistic("usr_1", "hi", "", t0),
			server: serverText("msg_1", "usr_1", "hi", "", t0.Add(10*time.Second)),
		},
		{
			name:    "server clock behind",
			local:   textOptimistic("usr_1", "hi", "", t0),
			server:  serverText("msg_1", "usr_1", "hi", "", t0.Add(-3*time.Second)),
			retired: true,
		},
		{
			name:   "different sender",
			local:  textOptimistic("usr_1", "hi", "", t0),
			server: serverText("msg_1", "usr_2", "hi", "", t0),
		},
		{
			name:   "different text",
			local:  textOptimistic("usr_1", "hi", "", t0),
			server: serverText("msg_1", "usr_1", "hi!", "", t0),
		},
		{
			name:   "failed entries are not content matched",
			local:  textOptimistic("usr_1", "hi", "", t0),
			failed: true,
			server: serverText("msg_1", "usr_1", "hi", "", t0),
		},
		{
			name:  "file with same name and type",
			local: Optimistic{SenderID: "usr_1", Kind: KindFile, Filename: "a.pdf", MediaType: "application/pdf", CreatedAt: t0},
			server: Message{ID: "msg_1", SenderID: "usr_1", Kind: KindFile, Filename: "a.pdf", MediaType: "application/pdf",
				AttachmentURL: "https://cdn.example.com/uploads/usr_1/1.pdf", CreatedAt: t0.Add(time.Second)},
			retired: true,
		},
		{
			name:  "file with other name",
			local: Optimistic{SenderID: "usr_1", Kind: KindFile, Filename: "a.pdf", MediaType: "application/pdf", CreatedAt: t0},
			server: Message{ID: "msg_1", SenderID: "usr_1", Kind: KindFile, Filename: "b.pdf", MediaType: "application/pdf",
				CreatedAt: t0.Add(time.Second)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set := NewOptimisticSet()
			local := set.Add(tc.local)
			if tc.failed {
				set.MarkFailed(local.LocalID, errors.New("down"))
			}
			retired := set.Reconcile([]Message{tc.server})
			if tc.retired {
				assert.Equal(t, []string{local.LocalID}, retired)
			} else {
				assert.Empty(t, retired)
				assert.Equal(t, 1, set.Len())
			}
		})
	}
}

func TestRenderOrdersServerThenPending(t *testing.T) {
	set := NewOptimisticSet()
	set.Add(textOptimistic("usr_1", "third", "tok-3", t0.Add(2*time.Second)))
	failed := set.Add(textOptimistic("usr_1", "fourth", "tok-4", t0.Add(3*time.Second)))
	set.MarkFailed(failed.LocalID, errors.New("offline"))

	server := []Message{
		serverText("msg_1", "adm_1", "first", "", t0),
		serverText("msg_2", "usr_1", "second", "", t0.Add(time.Second)),
	}
	entries := set.Render(server)
	require.Len(t, entries, 4)

	var contents []string
	for _, e := range entries {
		contents = append(contents, e.Message.Content)
	}
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, contents)
	assert.Equal(t, StatusConfirmed, entries[0].Status)
	assert.Equal(t, StatusSending, entries[2].Status)
	assert.Equal(t, StatusFailed, entries[3].Status)
	assert.Equal(t, failed.LocalID, entries[3].LocalID)
}

func TestTokenedSendIgnoresTokenlessLookalike(t *testing.T) {
	set := NewOptimisticSet()
	mine := set.Add(textOptimistic("usr_1", "ok", "tok-a", t0))

	// Someone else's client on the same account sent "ok" without a token.
	echo := serverText("msg_9", "usr_1", "ok", "", t0.Add(-2*time.Second))
	assert.Empty(t, set.Reconcile([]Message{echo}))
	require.Equal(t, 1, set.Len())

	assert.True(t, set.MarkFailed(mine.LocalID, errors.New("connection reset")))
	entries := set.Render([]Message{echo})
	require.Len(t, entries, 2)
	assert.Equal(t, mine.LocalID, entries[1].LocalID)
	assert.Equal(t, StatusFailed, entries[1].Status)
}

func TestReconcileForgetsUnlistedConfirmations(t *testing.T) {
	set := NewOptimisticSet()
	for i := 0; i < 3; i++ {
		set.Add(textOptimistic("usr_1", "ok", "", t0.Add(time.Duration(i)*time.Second)))
	}
	page := []Message{
		serverText("msg_1", "usr_1", "ok", "", t0),
		serverText("msg_2", "usr_1", "ok", "", t0.Add(time.Second)),
	}
	require.Len(t, set.Reconcile(page), 2)
	assert.Len(t, set.confirmed, 2)

	// Only the newest message is still listed; older ids are dropped.
	next := []Message{serverText("msg_3", "usr_1", "ok", "", t0.Add(2*time.Second))}
	require.Len(t, set.Reconcile(next), 1)
	assert.Len(t, set.confirmed, 1)
	assert.Contains(t, set.confirmed, "msg_3")
	assert.Equal(t, 0, set.Len())
}
