package draft

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpost/internal/model"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "draft_town-square", Key("town-square", ""))
	assert.Equal(t, "comment_draft_p1", Key("town-square", "p1"))
	assert.Equal(t, "comment_draft_p1", Conversation{ChannelID: "c", RootID: "p1"}.Key())
	assert.True(t, Conversation{RootID: "p1"}.IsThread())
}

func TestDraftPredicates(t *testing.T) {
	var nilDraft *Draft
	assert.True(t, nilDraft.IsEmpty())
	assert.False(t, nilDraft.CanSend())

	d := New(Conversation{ChannelID: "c1"})
	assert.True(t, d.IsEmpty())
	assert.False(t, d.CanSend())

	d.Message = "   "
	assert.False(t, d.IsEmpty())
	assert.False(t, d.CanSend())

	d.Message = ""
	d.UploadsInProgress = []string{"up1"}
	assert.False(t, d.IsEmpty())
	assert.False(t, d.CanSend())

	d.FileInfos = []model.FileInfo{{ID: "f1"}}
	assert.True(t, d.CanSend())
	assert.Equal(t, []string{"f1"}, d.FileIDs())
}

func TestCloneIsDeep(t *testing.T) {
	d := New(Conversation{ChannelID: "c1"})
	d.Message = "hi"
	d.FileInfos = []model.FileInfo{{ID: "f1"}}
	d.UploadsInProgress = []string{"up1"}
	d.Props = map[string]any{"k": "v"}
	d.Metadata.Priority = &model.PostPriority{Priority: model.PriorityUrgent}

	c := d.Clone()
	if diff := cmp.Diff(d, c); diff != "" {
		t.Fatalf("clone differs (-want +got):\n%s", diff)
	}
	c.FileInfos[0].ID = "changed"
	c.UploadsInProgress[0] = "changed"
	c.Props["k"] = "changed"
	c.Metadata.Priority.Priority = model.PriorityImportant
	assert.Equal(t, "f1", d.FileInfos[0].ID)
	assert.Equal(t, "up1", d.UploadsInProgress[0])
	assert.Equal(t, "v", d.Props["k"])
	assert.Equal(t, model.PriorityUrgent, d.Metadata.Priority.Priority)
}

func TestRemoveUploadAndFile(t *testing.T) {
	d := New(Conversation{ChannelID: "c1"})
	d.UploadsInProgress = []string{"a", "b", "c"}
	d.FileInfos = []model.FileInfo{{ID: "f1"}, {ID: "f2"}}
	original := d.UploadsInProgress

	assert.True(t, d.RemoveUpload("b"))
	assert.False(t, d.RemoveUpload("missing"))
	assert.Equal(t, []string{"a", "c"}, d.UploadsInProgress)
	assert.Equal(t, []string{"a", "b", "c"}, original, "backing array must not be modified")

	assert.True(t, d.RemoveFile("f1"))
	assert.False(t, d.RemoveFile("f1"))
	assert.Equal(t, []string{"f2"}, d.FileIDs())
}

func TestClearUploads(t *testing.T) {
	assert.Nil(t, ClearUploads(nil))

	plain := draftWith("keep")
	assert.Same(t, plain, ClearUploads(plain))

	withUploads := draftWith("")
	withUploads.UploadsInProgress = []string{"up1"}
	cleared := ClearUploads(withUploads)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.UploadsInProgress)
	assert.Equal(t, []string{"up1"}, withUploads.UploadsInProgress)
}

func TestMemoryStoreRemoveAllWithPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := draftWith("a")
	a.UploadsInProgress = []string{"up"}
	require.NoError(t, store.SetDraft(ctx, "draft_a", a))
	require.NoError(t, store.SetDraft(ctx, "draft_b", draftWith("b")))
	require.NoError(t, store.SetDraft(ctx, "comment_draft_r", draftWith("r")))

	require.NoError(t, store.RemoveAllWithPrefix(ctx, ChannelPrefix, ClearUploads))
	got, _ := store.GetDraft(ctx, "draft_a")
	require.NotNil(t, got)
	assert.Empty(t, got.UploadsInProgress)

	require.NoError(t, store.RemoveAllWithPrefix(ctx, CommentPrefix, func(*Draft) *Draft { return nil }))
	assert.Equal(t, []string{"draft_a", "draft_b"}, store.Keys())
}

type countingStore struct {
	*MemoryStore
	reads int
	err   error
}

func (c *countingStore) GetDraft(ctx context.Context, key string) (*Draft, error) {
	c.reads++
	if c.err != nil {
		return nil, c.err
	}
	return c.MemoryStore.GetDraft(ctx, key)
}

func TestCacheLazyRehydration(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, store.MemoryStore.SetDraft(ctx, "draft_c1", draftWith("stored")))

	cache := NewCache(store)
	got, err := cache.Get(ctx, "draft_c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "stored", got.Message)

	// second read served from memory
	_, err = cache.Get(ctx, "draft_c1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads)

	// misses are remembered too
	missing, err := cache.Get(ctx, "draft_none")
	require.NoError(t, err)
	assert.Nil(t, missing)
	_, _ = cache.Get(ctx, "draft_none")
	assert.Equal(t, 2, store.reads)

	// returned drafts are copies
	got.Message = "mutated"
	again, _ := cache.Get(ctx, "draft_c1")
	assert.Equal(t, "stored", again.Message)
}

func TestCacheSetDeleteReset(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, store.MemoryStore.SetDraft(ctx, "draft_c1", draftWith("stored")))
	cache := NewCache(store)

	cache.Set("draft_c1", draftWith("edited"))
	got, _ := cache.Get(ctx, "draft_c1")
	assert.Equal(t, "edited", got.Message)
	assert.Equal(t, 0, store.reads)
	assert.Equal(t, 1, cache.Len())

	cache.Delete("draft_c1")
	got, _ = cache.Get(ctx, "draft_c1")
	assert.Nil(t, got)
	assert.Equal(t, 0, cache.Len())

	cache.Reset()
	got, _ = cache.Get(ctx, "draft_c1")
	require.NotNil(t, got)
	assert.Equal(t, "stored", got.Message)
}

func TestCacheStoreError(t *testing.T) {
	boom := errors.New("corrupt")
	cache := NewCache(&countingStore{MemoryStore: NewMemoryStore(), err: boom})
	_, err := cache.Get(context.Background(), "draft_c1")
	require.ErrorIs(t, err, boom)
}

func TestSortFileInfos(t *testing.T) {
	infos := []model.FileInfo{
		{ID: "3", Name: "file10.txt", CreateAt: 5},
		{ID: "2", Name: "File2.txt", CreateAt: 5},
		{ID: "1", Name: "zeta.png", CreateAt: 1},
		{ID: "4", Name: "alpha.png", CreateAt: 9},
	}
	sorted := SortFileInfos(infos, "en")
	ids := make([]string, 0, len(sorted))
	for _, info := range sorted {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids)

	// unknown locales fall back instead of failing
	again := SortFileInfos([]model.FileInfo{{ID: "b", Name: "b"}, {ID: "a", Name: "a"}}, "not a locale!")
	if diff := cmp.Diff([]string{"a", "b"}, []string{again[0].ID, again[1].ID}, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("unexpected order: %s", diff)
	}
}
